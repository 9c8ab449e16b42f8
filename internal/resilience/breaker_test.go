package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

var errScore = errors.New("score failed")

func fail() error { return errScore }
func pass() error { return nil }

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		calls []func() error
		wait  time.Duration // before the last call
		want  State
	}{
		{"starts closed", Config{}, nil, 0, Closed},
		{"opens at threshold", Config{Threshold: 3, ResetTimeout: time.Hour}, []func() error{fail, fail, fail}, 0, Open},
		{"success resets count", Config{Threshold: 3, ResetTimeout: time.Hour}, []func() error{fail, fail, pass, fail, fail}, 0, Closed},
		{"half-open closes", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 1}, []func() error{fail, pass}, 5 * time.Millisecond, Closed},
		{"half-open needs enough successes", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2}, []func() error{fail, pass}, 5 * time.Millisecond, HalfOpen},
		{"half-open failure reopens", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2}, []func() error{fail, fail}, 5 * time.Millisecond, Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg)
			for i, fn := range tt.calls {
				if i == len(tt.calls)-1 {
					time.Sleep(tt.wait)
				}
				_ = b.Execute(fn)
			}
			if b.State() != tt.want {
				t.Errorf("state = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour})
	if err := b.Execute(fail); err != errScore {
		t.Fatalf("Execute() = %v, want the call's error", err)
	}

	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrOpen) || ran {
		t.Errorf("Execute() = %v ran=%v, want ErrOpen without running", err, ran)
	}
	if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Error("ErrOpen should carry CodeUnavailable")
	}
}

func TestBreakerConcurrentExecute(t *testing.T) {
	b := New(Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute(pass)
			} else {
				_ = b.Execute(fail)
			}
		}()
	}
	wg.Wait()

	if s := b.State(); s > HalfOpen {
		t.Errorf("invalid state %d", s)
	}
}

func TestScorerConfig(t *testing.T) {
	cfg := ScorerConfig()
	if cfg.Name != "scorer" || cfg.Threshold != ScorerThreshold || cfg.ResetTimeout != ScorerResetTimeout {
		t.Errorf("ScorerConfig() = %+v", cfg)
	}

	defaults := Config{}.withDefaults()
	if defaults.Threshold != DefaultThreshold || defaults.ResetTimeout != DefaultResetTimeout ||
		defaults.HalfOpenSuccesses != DefaultHalfOpenSuccesses || defaults.Name != "default" {
		t.Errorf("withDefaults() = %+v", defaults)
	}

	b := New(cfg)
	for i := 0; i < ScorerThreshold; i++ {
		if b.State() != Closed {
			t.Fatalf("opened after %d failures", i)
		}
		_ = b.Execute(fail)
	}
	if b.State() != Open {
		t.Errorf("state = %v after %d failures", b.State(), ScorerThreshold)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
