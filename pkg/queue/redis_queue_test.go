package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testQueue(t *testing.T, maxRetries int) *RebuildQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewRebuildQueue(RebuildQueueConfig{
		Addr:       mr.Addr(),
		Stream:     "rebuild_jobs",
		Group:      "workers",
		Consumer:   "test",
		MaxRetries: maxRetries,
		Block:      10 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func waitForStatus(t *testing.T, q *RebuildQueue, jobID, want string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %q", jobID, want)
	return JobStatus{}
}

func TestRebuildQueueProcessesJob(t *testing.T) {
	q := testQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	q.Start(ctx, 1, func(ctx context.Context, job JobStatus) error {
		handled.Add(1)
		return nil
	})
	// Give the consumer group a moment to exist before enqueueing.
	time.Sleep(50 * time.Millisecond)

	job, err := q.Enqueue(ctx, "admin-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued status, got %q", job.Status)
	}

	done := waitForStatus(t, q, job.ID, StatusDone)
	if done.RequestedBy != "admin-1" {
		t.Fatalf("unexpected requester: %q", done.RequestedBy)
	}
	if handled.Load() != 1 {
		t.Fatalf("expected 1 handler call, got %d", handled.Load())
	}
}

func TestRebuildQueueFailsAfterRetries(t *testing.T) {
	q := testQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	q.Start(ctx, 1, func(ctx context.Context, job JobStatus) error {
		attempts.Add(1)
		return errors.New("index offline")
	})
	time.Sleep(50 * time.Millisecond)

	job, err := q.Enqueue(ctx, "admin-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failed := waitForStatus(t, q, job.ID, StatusFailed)
	if failed.ErrorMessage != "index offline" {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
	if failed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", failed.Attempts)
	}
}

func TestRebuildQueueGetJobUnknown(t *testing.T) {
	q := testQueue(t, 1)
	if _, ok, err := q.GetJob(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("expected absent job, ok=%v err=%v", ok, err)
	}
}
