package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func BenchmarkInMemoryLimiter_Admit(b *testing.B) {
	l := NewInMemoryLimiter(Config{Limit: 1 << 30, Window: time.Minute})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Admit(ctx, "chat", "u1")
	}
}

func BenchmarkInMemoryLimiter_Admit_Parallel(b *testing.B) {
	l := NewInMemoryLimiter(Config{Limit: 1 << 30, Window: time.Minute})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Admit(ctx, "chat", "u1")
		}
	})
}

func BenchmarkInMemoryLimiter_ManyCallers(b *testing.B) {
	l := NewInMemoryLimiter(Config{Limit: 1000, Window: time.Minute})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Admit(ctx, "chat", fmt.Sprintf("caller-%d", i%100))
			i++
		}
	})
}

func BenchmarkInMemoryLimiter_HighContention(b *testing.B) {
	l := NewInMemoryLimiter(Config{Limit: 1 << 30, Window: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		wg.Add(10)
		for j := 0; j < 10; j++ {
			go func() {
				defer wg.Done()
				l.Admit(ctx, "chat", "u1")
			}()
		}
		wg.Wait()
	}
}
