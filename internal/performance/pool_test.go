package performance

import (
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()

	var sum atomic.Int64
	const tasks = 100
	for i := 1; i <= tasks; i++ {
		i := i
		if !pool.Submit(func() { sum.Add(int64(i)) }) {
			t.Fatalf("Submit refused task %d", i)
		}
	}
	pool.Drain()

	if got := sum.Load(); got != tasks*(tasks+1)/2 {
		t.Errorf("sum = %d, want %d", got, tasks*(tasks+1)/2)
	}
	if got := pool.TasksDone(); got != tasks {
		t.Errorf("tasks done = %d, want %d", got, tasks)
	}
}

func TestWorkerPoolSubmitAfterDrain(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Drain()

	if pool.Submit(func() {}) {
		t.Error("Submit accepted a task after Drain")
	}
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(2)
	if pool.Submit(func() {}) {
		t.Error("Submit accepted a task before Start")
	}
}

func TestWorkerPoolDefaultWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	if pool.workers <= 0 {
		t.Errorf("workers = %d, want > 0", pool.workers)
	}
}

func TestWorkerPoolStopIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Stop()
	pool.Stop()
	pool.Drain()
}
