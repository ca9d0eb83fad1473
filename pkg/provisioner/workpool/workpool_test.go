package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsFnError(t *testing.T) {
	p := New(0)
	wantErr := errors.New("boom")

	err := p.Run(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	p := New(2)

	var inFlight int32
	var maxInFlight int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				defer atomic.AddInt32(&inFlight, -1)

				mu.Lock()
				if n > maxInFlight {
					maxInFlight = n
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight > 2 {
		t.Errorf("max concurrent calls = %d, want <= 2", maxInFlight)
	}
}

func TestRunCanceledContext(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Saturate the single slot so the next Run must observe cancellation
	// while waiting for the semaphore.
	release := make(chan struct{})
	go p.Run(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	time.Sleep(5 * time.Millisecond)

	err := p.Run(ctx, func(ctx context.Context) error {
		t.Fatal("fn should not run once context is already canceled")
		return nil
	})
	close(release)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
