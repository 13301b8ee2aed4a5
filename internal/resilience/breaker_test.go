package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerInitialState(t *testing.T) {
	b := NewBreaker(DefaultConfig())
	if b.State() != Closed {
		t.Errorf("initial state = %v, want Closed", b.State())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(Config{Threshold: 3, ResetTimeout: time.Hour, HalfOpenSuccesses: 2})

	for i := 0; i < 3; i++ {
		b.Failure()
	}

	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerRejectsWhenOpen(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	b.Failure()

	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerTransitionsToHalfOpen(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 1})
	b.Failure()

	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want HalfOpen", b.State())
	}
}

func TestBreakerClosesAfterSuccesses(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})
	b.Failure()

	time.Sleep(5 * time.Millisecond)
	_ = b.Allow() // transition to half-open

	b.Success()
	b.Success()

	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})
	b.Failure()

	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()
	b.Failure()

	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	var transitions []string
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1}).
		WithHook(func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		})

	b.Failure()

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})

	got, err := ExecuteWithResult(b, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("ExecuteWithResult = (%d, %v), want (42, nil)", got, err)
	}

	boom := errors.New("boom")
	if _, err := ExecuteWithResult(b, func() (int, error) { return 0, boom }); err != boom {
		t.Errorf("ExecuteWithResult err = %v, want boom", err)
	}

	// Breaker is now open: calls are rejected without running fn.
	if _, err := ExecuteWithResult(b, func() (int, error) {
		t.Fatal("fn should not run when open")
		return 0, nil
	}); err != ErrOpen {
		t.Errorf("ExecuteWithResult err = %v, want ErrOpen", err)
	}
}
