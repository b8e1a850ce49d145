package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valpere/tradutor/internal/generator"
)

type step struct {
	text string
	err  error
}

type scripted struct {
	model string
	steps []step
	calls int
}

func (s *scripted) Name() string  { return "fake" }
func (s *scripted) Model() string { return s.model }

func (s *scripted) Generate(ctx context.Context, prompt string) (generator.Response, error) {
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	if st.err != nil {
		return generator.Response{}, st.err
	}
	return generator.Response{Text: st.text, Model: s.model, Latency: time.Millisecond}, nil
}

func accept(raw string) Verdict { return Verdict{Text: raw} }

func rejectContaining(bad string) Check {
	return func(raw string) Verdict {
		if strings.Contains(raw, bad) {
			return Verdict{Text: raw, Reason: "bad_output"}
		}
		return Verdict{Text: raw}
	}
}

type recorder struct{ delays []time.Duration }

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1500 * time.Millisecond},
		{2, 2700 * time.Millisecond},
		{3, 4860 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRun_SucceedsAfterTransportErrors(t *testing.T) {
	rec := &recorder{}
	gen := &scripted{model: "m", steps: []step{
		{err: errors.New("connection refused")},
		{err: generator.ErrEmptyResponse},
		{text: "ok"},
	}}
	c := New(DefaultPolicy(), WithSleeper(rec.sleep))

	out := c.Run(context.Background(), gen, "p", accept)
	if out.Kind != OK || out.Text != "ok" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	want := []time.Duration{1500 * time.Millisecond, 2700 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("slept %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestRun_Exhausted(t *testing.T) {
	rec := &recorder{}
	gen := &scripted{model: "m", steps: []step{{err: generator.ErrEmptyResponse}}}
	c := New(DefaultPolicy(), WithSleeper(rec.sleep))

	out := c.Run(context.Background(), gen, "p", accept)
	if out.Kind != Fatal {
		t.Fatalf("Kind = %v, want fatal", out.Kind)
	}
	if !errors.Is(out.Err, ErrExhausted) || !errors.Is(out.Err, generator.ErrEmptyResponse) {
		t.Errorf("error %v does not wrap both causes", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "after 3 attempts") {
		t.Errorf("error %q lacks attempt count", out.Err)
	}
	// no sleep after the final attempt
	if len(rec.delays) != 2 {
		t.Errorf("slept %d times, want 2", len(rec.delays))
	}
}

func TestRun_BlankTextBacksOff(t *testing.T) {
	rec := &recorder{}
	gen := &scripted{model: "m", steps: []step{{text: ""}, {text: " \n\t"}, {text: "ok"}}}
	checked := 0
	check := func(raw string) Verdict {
		checked++
		return Verdict{Text: raw}
	}
	c := New(DefaultPolicy(), WithSleeper(rec.sleep))

	out := c.Run(context.Background(), gen, "p", check)
	if out.Kind != OK || out.Text != "ok" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if checked != 1 {
		t.Errorf("check called %d times, want 1", checked)
	}
	if len(rec.delays) != 2 {
		t.Errorf("slept %d times, want 2", len(rec.delays))
	}

	gen = &scripted{model: "m", steps: []step{{text: ""}}}
	out = c.Run(context.Background(), gen, "p", check)
	if out.Kind != Fatal || !errors.Is(out.Err, generator.ErrEmptyResponse) {
		t.Errorf("blank answers ended as %+v, want fatal empty response", out)
	}
}

func TestRun_Rejection(t *testing.T) {
	tests := []struct {
		name          string
		retryOnReject bool
		steps         []step
		wantKind      Kind
		wantCalls     int
	}{
		{"no retry returns at once", false, []step{{text: "bad"}, {text: "good"}}, Retryable, 1},
		{"retry recovers", true, []step{{text: "bad"}, {text: "good"}}, OK, 2},
		{"retry until exhausted", true, []step{{text: "bad"}}, Retryable, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := DefaultPolicy()
			p.RetryOnReject = tt.retryOnReject
			gen := &scripted{model: "m", steps: tt.steps}

			out := New(p, WithSleeper(rec.sleep)).Run(context.Background(), gen, "p", rejectContaining("bad"))
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", out.Kind, tt.wantKind)
			}
			if gen.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", gen.calls, tt.wantCalls)
			}
			if out.Kind == Retryable && out.Reason != "bad_output" {
				t.Errorf("Reason = %q", out.Reason)
			}
			if len(rec.delays) != 0 {
				t.Errorf("rejections must not back off, slept %v", rec.delays)
			}
		})
	}
}

func TestRun_FinalVerdictStopsRetry(t *testing.T) {
	gen := &scripted{model: "m", steps: []step{{text: "x"}}}
	check := func(raw string) Verdict { return Verdict{Text: raw, Reason: "collapse", Final: true} }

	out := New(DefaultPolicy()).Run(context.Background(), gen, "p", check)
	if out.Kind != Retryable || gen.calls != 1 {
		t.Errorf("got %v after %d calls", out.Kind, gen.calls)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scripted{model: "m", steps: []step{{err: errors.New("timeout")}}}
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	out := New(DefaultPolicy(), WithSleeper(sleeper)).Run(ctx, gen, "p", accept)
	if out.Kind != Fatal || !errors.Is(out.Err, context.Canceled) {
		t.Errorf("unexpected outcome %+v", out)
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestRun_Observer(t *testing.T) {
	var seen []string
	obs := func(backend, outcome string, _ time.Duration) { seen = append(seen, backend+":"+outcome) }
	gen := &scripted{model: "m", steps: []step{{err: errors.New("x")}, {text: "bad"}, {text: "ok"}}}

	New(DefaultPolicy(), WithSleeper((&recorder{}).sleep), WithObserver(obs)).
		Run(context.Background(), gen, "p", rejectContaining("bad"))

	want := "fake:error,fake:rejected,fake:ok"
	if got := strings.Join(seen, ","); got != want {
		t.Errorf("observed %q, want %q", got, want)
	}
}

func TestRunChain(t *testing.T) {
	p := DefaultPolicy()
	p.MaxRetries = 1

	t.Run("falls back on fatal", func(t *testing.T) {
		first := &scripted{model: "a", steps: []step{{err: errors.New("down")}}}
		second := &scripted{model: "b", steps: []step{{text: "ok"}}}
		out := New(p).RunChain(context.Background(), []generator.Generator{first, second}, "p", accept)
		if out.Kind != OK || out.Model != "b" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if out.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", out.Attempts)
		}
	})

	t.Run("rejection does not fall back", func(t *testing.T) {
		first := &scripted{model: "a", steps: []step{{text: "bad"}}}
		second := &scripted{model: "b", steps: []step{{text: "ok"}}}
		out := New(p).RunChain(context.Background(), []generator.Generator{first, second}, "p", rejectContaining("bad"))
		if out.Kind != Retryable || second.calls != 0 {
			t.Errorf("unexpected outcome %+v, second calls %d", out, second.calls)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		first := &scripted{model: "a", steps: []step{{err: errors.New("down")}}}
		second := &scripted{model: "b", steps: []step{{err: generator.ErrEmptyResponse}}}
		out := New(p).RunChain(context.Background(), []generator.Generator{first, second}, "p", accept)
		if out.Kind != Fatal || !strings.Contains(out.Err.Error(), "all 2 models failed") {
			t.Fatalf("unexpected outcome %+v", out)
		}
		if !errors.Is(out.Err, generator.ErrEmptyResponse) {
			t.Errorf("error %v should wrap the last cause", out.Err)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if out := New(p).RunChain(context.Background(), nil, "p", accept); out.Kind != Fatal {
			t.Errorf("Kind = %v, want fatal", out.Kind)
		}
	})
}
