package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

type flaggedErr struct {
	retryable bool
}

func (e flaggedErr) Error() string   { return "flagged" }
func (e flaggedErr) Retryable() bool { return e.retryable }

func TestRetryableRespectsErrorFlag(t *testing.T) {
	if Retryable(flaggedErr{retryable: false}) {
		t.Fatalf("non-retryable flagged error should not be retryable")
	}
	if !Retryable(flaggedErr{retryable: true}) {
		t.Fatalf("retryable flagged error should be retryable")
	}
	if Retryable(context.Canceled) {
		t.Fatalf("context.Canceled should never be retryable")
	}
}

func TestPolicyDoRetriesOnce(t *testing.T) {
	p := Policy{Timeout: time.Second, MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return flaggedErr{retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestPolicyDoStopsOnNonRetryable(t *testing.T) {
	p := Policy{Timeout: time.Second, MaxRetries: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return flaggedErr{retryable: false}
	})
	var fe flaggedErr
	if !errors.As(err, &fe) {
		t.Fatalf("Do() error = %v, want flagged error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
