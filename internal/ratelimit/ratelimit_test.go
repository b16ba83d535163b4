package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*InMemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewInMemoryLimiter(Config{Limit: limit, Window: window})
	l.now = clock.Now
	return l, clock
}

func TestInMemoryLimiter_Admit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	d, err := l.Admit(ctx, "chat", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected allowed to be true")
	}
	if d.Remaining != 2 {
		t.Errorf("expected remaining 2, got %d", d.Remaining)
	}

	l.Admit(ctx, "chat", "u1")
	l.Admit(ctx, "chat", "u1")

	d, _ = l.Admit(ctx, "chat", "u1")
	if d.Allowed {
		t.Error("expected allowed to be false after limit exceeded")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
}

// Five calls in a 60s window are admitted, the sixth is rejected with a
// retry hint no larger than the window.
func TestInMemoryLimiter_FivePerMinute(t *testing.T) {
	l, clock := newTestLimiter(5, 60*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, _ := l.Admit(ctx, "chat", "u1")
		if !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
		clock.Advance(time.Second)
	}

	d, _ := l.Admit(ctx, "chat", "u1")
	if d.Allowed {
		t.Fatal("6th call should be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 60*time.Second {
		t.Errorf("RetryAfter = %v, want within (0, 60s]", d.RetryAfter)
	}
	if d.RetryAfter != 55*time.Second {
		t.Errorf("RetryAfter = %v, want 55s", d.RetryAfter)
	}
}

func TestInMemoryLimiter_AdmitsAfterWindow(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	l.Admit(ctx, "chat", "u1")
	l.Admit(ctx, "chat", "u1")
	if d, _ := l.Admit(ctx, "chat", "u1"); d.Allowed {
		t.Fatal("3rd call in window should be rejected")
	}

	clock.Advance(time.Minute)

	d, _ := l.Admit(ctx, "chat", "u1")
	if !d.Allowed {
		t.Fatal("call after the window boundary should be admitted")
	}
	if d.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 in fresh window", d.Remaining)
	}
}

func TestInMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	l.Admit(ctx, "chat", "u1")

	if d, _ := l.Admit(ctx, "chat", "u1"); d.Allowed {
		t.Error("u1 should be rate limited")
	}
	if d, _ := l.Admit(ctx, "chat", "u2"); !d.Allowed {
		t.Error("u2 should not be rate limited")
	}
	if d, _ := l.Admit(ctx, "sentiment", "u1"); !d.Allowed {
		t.Error("u1 in another scope should not be rate limited")
	}
}

func TestInMemoryLimiter_ResetAt(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	d, _ := l.Admit(context.Background(), "chat", "u1")
	if want := clock.Now().Add(time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestInMemoryLimiter_ZeroLimit(t *testing.T) {
	l, _ := newTestLimiter(0, time.Minute)

	d, _ := l.Admit(context.Background(), "chat", "u1")
	if d.Allowed {
		t.Error("zero limit should deny all requests")
	}
}

func TestInMemoryLimiter_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	l := NewInMemoryLimiter(Config{Limit: 100, Window: time.Hour})
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if d, _ := l.Admit(ctx, "chat", "u1"); d.Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := admitted.Load(); n != 100 {
		t.Errorf("admitted = %d, want exactly 100", n)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name    string
		resetAt time.Time
		want    time.Duration
	}{
		{"exact seconds", now.Add(30 * time.Second), 30 * time.Second},
		{"rounds up", now.Add(29*time.Second + time.Millisecond), 30 * time.Second},
		{"sub-second", now.Add(10 * time.Millisecond), time.Second},
		{"already passed", now.Add(-time.Second), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfter(tt.resetAt, now); got != tt.want {
				t.Errorf("RetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)
	ctx := context.Background()

	l.Admit(ctx, "chat", "u1")
	l.Admit(ctx, "chat", "u2")
	clock.Advance(30 * time.Second)
	l.Admit(ctx, "chat", "u3")

	clock.Advance(31 * time.Second)

	if removed := l.Sweep(); removed != 2 {
		t.Errorf("Sweep() removed %d, want 2", removed)
	}
	if n := l.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestInMemoryLimiter_StartStop(t *testing.T) {
	l := NewInMemoryLimiter(Config{Limit: 5, Window: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	l.Admit(context.Background(), "chat", "u1")

	l.Start(context.Background())
	defer l.Stop()

	deadline := time.Now().Add(time.Second)
	for l.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove expired window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInMemoryLimiter_StopWithoutStart(t *testing.T) {
	l := NewInMemoryLimiter(Config{Limit: 1, Window: time.Second})

	done := make(chan struct{})
	go func() {
		l.Stop()
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked without Start()")
	}
}

func TestRedisLimiter(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	l, err := NewRedisLimiter(redisURL, Config{Limit: 2, Window: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	caller := "redis-test-" + time.Now().Format("150405.000000")

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, "chat", caller)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}

	d, err := l.Admit(ctx, "chat", caller)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("3rd call should be rejected")
	}
	if d.RetryAfter < time.Second || d.RetryAfter > 2*time.Second {
		t.Errorf("RetryAfter = %v, want within [1s, 2s]", d.RetryAfter)
	}

	time.Sleep(2100 * time.Millisecond)

	d, err = l.Admit(ctx, "chat", caller)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !d.Allowed {
		t.Error("call after window should be admitted")
	}
}
