package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

func setupTestQueue(t *testing.T) (*database.Service, func()) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		PingTimeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return db, db.Close
}

func newTestWorker(db *database.Service, handler Handler, maxAttempts int) *Worker {
	return NewWorker(WorkerConfig{
		Queue:       db,
		Handles:     db,
		Handlers:    map[string]Handler{KindAITransform: handler},
		WorkerId:    "test-worker",
		Concurrency: 2,
		JobTimeout:  time.Second,
		MaxAttempts: maxAttempts,
	})
}

func submit(t *testing.T, runner *Runner) string {
	t.Helper()
	id, err := runner.Submit(context.Background(), models.Job{
		Kind:             KindAITransform,
		AccountId:        "alice",
		ResourceId:       "src",
		ResultResourceId: "dst",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return id
}

func TestWorker_CompletesJob(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	jobId := submit(t, runner)

	state, err := runner.GetState(ctx, jobId)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Status != models.JobStatusPending {
		t.Errorf("Expected PENDING before processing, got %s", state.Status)
	}

	worker := newTestWorker(db, HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		return job.ResultResourceId, nil
	}), 3)

	if n := worker.ProcessAvailable(ctx); n != 1 {
		t.Fatalf("Expected 1 processed job, got %d", n)
	}

	state, err = runner.GetState(ctx, jobId)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Status != models.JobStatusSuccess || state.Result != "dst" {
		t.Errorf("Expected SUCCESS with dst, got %+v", state)
	}
}

func TestWorker_PermanentErrorFailsImmediately(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	var calls int32
	worker := newTestWorker(db, HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", Permanent(store.ErrInsufficientCredits)
	}), 5)

	jobId := submit(t, runner)
	worker.ProcessAvailable(ctx)

	if calls != 1 {
		t.Errorf("Expected handler to run once, ran %d times", calls)
	}
	state, _ := runner.GetState(ctx, jobId)
	if state.Status != models.JobStatusFailure || state.Error != store.ErrInsufficientCredits.Error() {
		t.Errorf("Expected FAILURE with insufficient credits, got %+v", state)
	}
}

func TestWorker_RetriesTransientErrors(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	var calls int32
	worker := newTestWorker(db, HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("upstream unavailable")
		}
		return job.ResultResourceId, nil
	}), 3)

	jobId := submit(t, runner)
	worker.ProcessAvailable(ctx)

	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	state, _ := runner.GetState(ctx, jobId)
	if state.Status != models.JobStatusSuccess {
		t.Errorf("Expected SUCCESS after retries, got %+v", state)
	}
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	var calls int32
	worker := newTestWorker(db, HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("still broken")
	}), 2)

	jobId := submit(t, runner)
	worker.ProcessAvailable(ctx)

	if calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}
	state, _ := runner.GetState(ctx, jobId)
	if state.Status != models.JobStatusFailure || state.Error != "still broken" {
		t.Errorf("Expected FAILURE, got %+v", state)
	}
}

func TestWorker_UnknownKindFails(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	jobId, err := runner.Submit(ctx, models.Job{Kind: "mystery", AccountId: "alice", ResourceId: "src"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	worker := newTestWorker(db, HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		t.Error("handler must not run for unknown kinds")
		return "", nil
	}), 3)
	worker.ProcessAvailable(ctx)

	state, _ := runner.GetState(ctx, jobId)
	if state.Status != models.JobStatusFailure {
		t.Errorf("Expected FAILURE, got %+v", state)
	}
}

func TestWorker_StartStop(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	runner := NewRunner(db)
	ctx := context.Background()

	done := make(chan struct{}, 1)
	worker := NewWorker(WorkerConfig{
		Queue:    db,
		Handles:  db,
		WorkerId: "test-worker",
		Handlers: map[string]Handler{KindAITransform: HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
			done <- struct{}{}
			return job.ResultResourceId, nil
		})},
		PollInterval: 10 * time.Millisecond,
	})

	jobId := submit(t, runner)
	if err := worker.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Job was not processed")
	}
	worker.Stop()

	state, _ := runner.GetState(ctx, jobId)
	if state.Status != models.JobStatusSuccess {
		t.Errorf("Expected SUCCESS, got %+v", state)
	}
}

func TestWorker_StartRequiresHandlers(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()

	worker := NewWorker(WorkerConfig{Queue: db, Handles: db})
	if err := worker.Start(context.Background()); err == nil {
		t.Error("Expected error when no handlers are registered")
	}
}

func TestSweep_RemovesExpiredHandles(t *testing.T) {
	db, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := db.RegisterHandle(ctx, models.JobHandle{
		AccountId:  "alice",
		ResourceId: "src",
		JobId:      "job-1",
		CreatedAt:  now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("RegisterHandle failed: %v", err)
	}

	result, err := Sweep(ctx, db, db, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ExpiredHandles != 1 || result.RequeuedJobs != 0 {
		t.Errorf("Unexpected sweep result: %+v", result)
	}
	if _, err := db.GetHandle(ctx, "alice", "src"); !errors.Is(err, store.ErrHandleNotFound) {
		t.Errorf("Expected handle to be gone, got %v", err)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	err := Permanent(store.ErrResourceNotFound)
	if !IsPermanent(err) || !errors.Is(err, store.ErrResourceNotFound) {
		t.Errorf("Expected permanent wrapper of ErrResourceNotFound, got %v", err)
	}
	if IsPermanent(errors.New("transient")) {
		t.Error("Plain errors must not be permanent")
	}
}
