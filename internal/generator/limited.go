package generator

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited spaces out requests to a backend with a token bucket.
type Limited struct {
	Generator
	limiter *rate.Limiter
}

func NewLimited(g Generator, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{Generator: g, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Generate(ctx context.Context, prompt string) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return l.Generator.Generate(ctx, prompt)
}
