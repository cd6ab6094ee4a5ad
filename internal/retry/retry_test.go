package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	start := time.Now()
	got, err := Do(context.Background(), "send", func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &HTTPError{StatusCode: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two backoffs of at least base*0.75 and 2*base*0.75 elapsed.
	if elapsed := time.Since(start); elapsed < 1100*time.Millisecond {
		t.Errorf("elapsed %v, expected backoff delays before retries", elapsed)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "send", func(ctx context.Context) (string, error) {
		calls++
		return "", &HTTPError{StatusCode: 400, Body: "bad request"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "send", func(ctx context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 500}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, MaxRetries+1)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("underlying error not preserved: %v", err)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, "send", func(ctx context.Context) (int, error) {
			calls++
			return 0, &HTTPError{StatusCode: 503}
		})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &HTTPError{StatusCode: 429}, true},
		{"bad gateway", &HTTPError{StatusCode: 502}, true},
		{"unauthorized", &HTTPError{StatusCode: 401}, false},
		{"not found", &HTTPError{StatusCode: 404}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"conn refused", errors.New("dial tcp 127.0.0.1:80: connection refused"), true},
		{"plain", errors.New("invalid payload"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	for i := 0; i < 20; i++ {
		d0 := Delay(0)
		if d0 < 375*time.Millisecond || d0 > 625*time.Millisecond {
			t.Fatalf("Delay(0) = %v outside jitter bounds", d0)
		}
		if d := Delay(10); d > 10*time.Second {
			t.Fatalf("Delay(10) = %v exceeds cap", d)
		}
	}
}
