package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunLimitsConcurrency(t *testing.T) {
	p := New(2)

	var active, peak int32
	var wg sync.WaitGroup
	gate := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				<-gate
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}

	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("peak concurrency %d exceeded limit 2", got)
	}
}

func TestRunPropagatesError(t *testing.T) {
	p := New(1)
	boom := errors.New("boom")
	if err := p.Run(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	p := New(1)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Run(context.Background(), func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNilPoolRunsDirectly(t *testing.T) {
	var p *Pool
	ran := false
	if err := p.Run(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
}
