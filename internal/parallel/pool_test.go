package parallel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_ExecutesTasks(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n.Add(1)
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()
	if n.Load() != 100 {
		t.Errorf("executed %d tasks, want 100", n.Load())
	}
}

func TestPool_RunWaitsForCompletion(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	done := false
	if err := p.Run(context.Background(), func() {
		time.Sleep(10 * time.Millisecond)
		done = true
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !done {
		t.Error("Run returned before the task finished")
	}
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	// Saturate the single worker and its queue.
	block := make(chan struct{})
	defer close(block)
	_ = p.Submit(context.Background(), func() { <-block })
	for i := 0; i < cap(p.tasks); i++ {
		_ = p.Submit(context.Background(), func() {})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func() {}); err == nil {
		t.Error("submit into a full pool should fail when the context expires")
	}
}

func TestPool_MinimumOneWorker(t *testing.T) {
	p := NewPool(0)
	defer p.Close()
	if p.Workers() != 1 {
		t.Errorf("workers = %d, want 1", p.Workers())
	}

	ran := make(chan struct{})
	if err := p.Submit(context.Background(), func() { close(ran) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("degraded pool never ran the task")
	}
}

func TestPool_CloseDrainsQueuedWork(t *testing.T) {
	p := NewPool(1)

	var n atomic.Int64
	for i := 0; i < 8; i++ {
		_ = p.Submit(context.Background(), func() { n.Add(1) })
	}
	p.Close()
	if n.Load() != 8 {
		t.Errorf("drained %d tasks, want 8", n.Load())
	}

	// Close is idempotent, and submits after close fail promptly.
	p.Close()
	if err := p.Submit(context.Background(), func() {}); err == nil {
		t.Error("submit after close should fail")
	}
}
