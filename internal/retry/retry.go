// Package retry drives a generator through bounded attempts with exponential
// backoff and an optional chain of fallback models.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/logging"
)

// ErrExhausted wraps the last failure once every attempt is spent.
var ErrExhausted = errors.New("retries exhausted")

// Kind classifies an Outcome.
type Kind int

const (
	// OK means the answer passed the check.
	OK Kind = iota
	// Retryable means the answer was rejected by the check. The caller
	// recovers through its fallback; the reason says why.
	Retryable
	// Fatal means no answer could be obtained at all.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Retryable:
		return "rejected"
	default:
		return "fatal"
	}
}

// Outcome is the typed result of Run.
type Outcome struct {
	Kind     Kind
	Text     string
	Reason   string
	Err      error
	Attempts int
	Backend  string
	Model    string
	Latency  time.Duration
}

// Verdict is what a Check makes of one raw answer. An empty Reason accepts
// Text. Final rejections are never retried.
type Verdict struct {
	Text   string
	Reason string
	Final  bool
}

// Check turns a raw answer into a Verdict.
type Check func(raw string) Verdict

// Policy bounds the attempts of one Run.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Factor         float64
	// RetryOnReject re-prompts after a rejected answer while attempts
	// remain.
	RetryOnReject bool
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialBackoff: 1500 * time.Millisecond, Factor: 1.8, RetryOnReject: true}
}

// Backoff is the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	return time.Duration(math.Round(float64(p.InitialBackoff) * math.Pow(factor, float64(attempt-1))))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext is the default Sleeper.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer is told about every attempt. outcome is "ok", "rejected" or
// "error".
type Observer func(backend, outcome string, latency time.Duration)

// Controller runs generation attempts under a Policy.
type Controller struct {
	policy  Policy
	sleep   Sleeper
	observe Observer
	logger  *zap.Logger
}

type Option func(*Controller)

func WithSleeper(s Sleeper) Option { return func(c *Controller) { c.sleep = s } }

func WithObserver(o Observer) Option { return func(c *Controller) { c.observe = o } }

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = logging.OrNop(l) } }

func New(p Policy, opts ...Option) *Controller {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	c := &Controller{
		policy:  p,
		sleep:   SleepWithContext,
		observe: func(string, string, time.Duration) {},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run asks gen for an answer to prompt up to MaxRetries times. Transport
// errors and empty answers back off before the next attempt; rejected
// answers are re-prompted at once when the policy allows it.
func (c *Controller) Run(ctx context.Context, gen generator.Generator, prompt string, check Check) Outcome {
	var (
		lastErr    error
		lastReject *Verdict
		total      time.Duration
	)
	out := Outcome{Backend: gen.Name(), Model: gen.Model()}

	for attempt := 1; attempt <= c.policy.MaxRetries; attempt++ {
		out.Attempts = attempt
		resp, err := gen.Generate(ctx, prompt)
		total += resp.Latency
		out.Latency = total
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = generator.ErrEmptyResponse
		}

		if err != nil {
			c.observe(gen.Name(), "error", resp.Latency)
			lastErr, lastReject = err, nil
			if ctxErr := ctx.Err(); ctxErr != nil {
				out.Kind, out.Err = Fatal, fmt.Errorf("generation cancelled: %w", ctxErr)
				return out
			}
			c.logger.Warn("generation attempt failed",
				zap.String("backend", gen.Name()),
				zap.String("model", gen.Model()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < c.policy.MaxRetries {
				if err := c.sleep(ctx, c.policy.Backoff(attempt)); err != nil {
					out.Kind, out.Err = Fatal, fmt.Errorf("generation cancelled: %w", err)
					return out
				}
			}
			continue
		}

		v := check(resp.Text)
		if v.Reason == "" {
			c.observe(gen.Name(), "ok", resp.Latency)
			out.Kind, out.Text = OK, v.Text
			return out
		}

		c.observe(gen.Name(), "rejected", resp.Latency)
		c.logger.Info("generated text rejected",
			zap.String("model", gen.Model()),
			zap.Int("attempt", attempt),
			zap.String("reason", v.Reason))
		lastReject, lastErr = &v, nil
		if v.Final || !c.policy.RetryOnReject {
			break
		}
	}

	if lastReject != nil {
		out.Kind, out.Reason, out.Text = Retryable, lastReject.Reason, lastReject.Text
		return out
	}
	out.Kind = Fatal
	out.Err = fmt.Errorf("%w: generation failed after %d attempts: %w", ErrExhausted, out.Attempts, lastErr)
	return out
}

// RunChain tries each generator in order until one yields an accepted or
// rejected answer. Only Fatal outcomes move on to the next candidate.
func (c *Controller) RunChain(ctx context.Context, gens []generator.Generator, prompt string, check Check) Outcome {
	if len(gens) == 0 {
		return Outcome{Kind: Fatal, Err: errors.New("no generator configured")}
	}
	var (
		errs     []error
		attempts int
		latency  time.Duration
	)
	for i, g := range gens {
		out := c.Run(ctx, g, prompt, check)
		attempts += out.Attempts
		latency += out.Latency
		out.Attempts, out.Latency = attempts, latency
		if out.Kind != Fatal {
			return out
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Model(), out.Err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(gens) {
			c.logger.Warn("falling back to next model",
				zap.String("failed", g.Model()),
				zap.String("next", gens[i+1].Model()))
		}
	}
	last := gens[len(gens)-1]
	return Outcome{
		Kind:     Fatal,
		Err:      fmt.Errorf("all %d models failed: %w", len(gens), errors.Join(errs...)),
		Attempts: attempts,
		Latency:  latency,
		Backend:  last.Name(),
		Model:    last.Model(),
	}
}
