/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mydraws-credits-go/internal/metrics"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler does the work for one job and returns the id of the resource it produced.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) (string, error)
}

type HandlerFunc func(ctx context.Context, job *models.Job) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

// WorkerConfig contains configuration for Worker
type WorkerConfig struct {
	Queue    store.JobQueue
	Handles  store.CorrelationStore
	Handlers map[string]Handler
	WorkerId string

	Concurrency     int
	PollInterval    time.Duration
	CleanupInterval time.Duration
	JobTimeout      time.Duration
	LeaseDuration   time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
}

// Worker polls the queue and runs claimed jobs on a fixed number of goroutines
type Worker struct {
	queue    store.JobQueue
	handles  store.CorrelationStore
	handlers map[string]Handler
	workerId string

	concurrency     int
	pollInterval    time.Duration
	cleanupInterval time.Duration
	jobTimeout      time.Duration
	leaseDuration   time.Duration
	maxAttempts     int
	retryBackoff    time.Duration

	// Control channels
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:           cfg.Queue,
		handles:         cfg.Handles,
		handlers:        cfg.Handlers,
		workerId:        cfg.WorkerId,
		concurrency:     cfg.Concurrency,
		pollInterval:    cfg.PollInterval,
		cleanupInterval: cfg.CleanupInterval,
		jobTimeout:      cfg.JobTimeout,
		leaseDuration:   cfg.LeaseDuration,
		maxAttempts:     cfg.MaxAttempts,
		retryBackoff:    cfg.RetryBackoff,
		stopChan:        make(chan struct{}),
	}
	if w.workerId == "" {
		host, _ := os.Hostname()
		w.workerId = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	if w.cleanupInterval <= 0 {
		w.cleanupInterval = 5 * time.Minute
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 3 * time.Minute
	}
	if w.leaseDuration < w.jobTimeout {
		w.leaseDuration = w.jobTimeout + time.Minute
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 1
	}
	return w
}

// Start recovers jobs orphaned by a previous crash, then runs the poll and cleanup loops
func (w *Worker) Start(ctx context.Context) error {
	zap.L().Info("Starting job worker", zap.String("worker_id", w.workerId))

	if len(w.handlers) == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	if _, err := w.Cleanup(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	w.wg.Add(2)
	go w.pollLoop(ctx)
	go w.cleanupLoop(ctx)

	zap.L().Info("Job worker started successfully",
		zap.String("worker_id", w.workerId),
		zap.Int("concurrency", w.concurrency),
		zap.Duration("polling_interval", w.pollInterval),
		zap.Duration("job_timeout", w.jobTimeout))
	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs
func (w *Worker) Stop() {
	zap.L().Info("Stopping job worker")
	close(w.stopChan)
	w.wg.Wait()
	zap.L().Info("Job worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessAvailable(ctx)

	for {
		select {
		case <-ticker.C:
			w.ProcessAvailable(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessAvailable drains the queue on concurrency goroutines and returns how
// many jobs were handled.
func (w *Worker) ProcessAvailable(ctx context.Context) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-w.stopChan:
					return
				case <-ctx.Done():
					return
				default:
				}

				job, err := w.queue.ClaimJob(ctx, w.workerId, w.leaseDuration)
				if err != nil {
					zap.L().Error("Failed to claim job", zap.String("worker_id", w.workerId), zap.Error(err))
					return
				}
				if job == nil {
					return
				}

				w.process(ctx, job)
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return processed
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	// State transitions must land even if the worker is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	logger := zap.L().With(
		zap.String("job_id", job.Id),
		zap.String("kind", job.Kind),
		zap.String("account_id", job.AccountId),
		zap.Int("attempt", job.Attempts))

	handler, ok := w.handlers[job.Kind]
	if !ok {
		logger.Error("No handler registered for job kind")
		w.fail(persistCtx, job, "no handler for job kind "+job.Kind)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	resultId, err := handler.Handle(jobCtx, job)
	if err == nil {
		if err := w.queue.CompleteJob(persistCtx, job.Id, resultId); err != nil {
			logger.Error("Failed to mark job complete", zap.Error(err))
			return
		}
		metrics.JobsProcessed.WithLabelValues(job.Kind, "success").Inc()
		logger.Info("Job completed",
			zap.String("result_resource_id", resultId),
			zap.Duration("elapsed", time.Since(start)))
		return
	}

	if IsPermanent(err) || job.Attempts >= w.maxAttempts {
		logger.Warn("Job failed", zap.Bool("permanent", IsPermanent(err)), zap.Error(err))
		w.fail(persistCtx, job, err.Error())
		return
	}

	availableAt := time.Now().UTC().Add(time.Duration(job.Attempts) * w.retryBackoff)
	if err := w.queue.RetryJob(persistCtx, job.Id, err.Error(), availableAt); err != nil {
		logger.Error("Failed to schedule job retry", zap.Error(err))
		return
	}
	metrics.JobsProcessed.WithLabelValues(job.Kind, "retry").Inc()
	logger.Warn("Job failed, retry scheduled", zap.Time("available_at", availableAt), zap.Error(err))
}

func (w *Worker) fail(ctx context.Context, job *models.Job, message string) {
	if err := w.queue.FailJob(ctx, job.Id, message); err != nil {
		zap.L().Error("Failed to mark job failed", zap.String("job_id", job.Id), zap.Error(err))
		return
	}
	metrics.JobsProcessed.WithLabelValues(job.Kind, "failure").Inc()
}

// cleanupLoop periodically re-queues expired leases and drops expired handles
func (w *Worker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				zap.L().Error("Job cleanup failed", zap.Error(err))
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CleanupResult counts what one cleanup pass changed.
type CleanupResult struct {
	RequeuedJobs   int64
	ExpiredHandles int64
}

func (w *Worker) Cleanup(ctx context.Context) (CleanupResult, error) {
	return Sweep(ctx, w.queue, w.handles, time.Now().UTC())
}

// Sweep re-queues jobs whose lease ran out and deletes expired correlation handles.
func Sweep(ctx context.Context, queue store.JobQueue, handles store.CorrelationStore, now time.Time) (CleanupResult, error) {
	var result CleanupResult

	requeued, err := queue.RequeueExpiredJobs(ctx, now)
	if err != nil {
		return result, err
	}
	result.RequeuedJobs = requeued

	if handles != nil {
		expired, err := handles.DeleteExpiredHandles(ctx, now)
		if err != nil {
			return result, err
		}
		result.ExpiredHandles = expired
	}

	if result.RequeuedJobs > 0 || result.ExpiredHandles > 0 {
		zap.L().Info("Cleaned up jobs and handles",
			zap.Int64("requeued_jobs", result.RequeuedJobs),
			zap.Int64("expired_handles", result.ExpiredHandles))
	}
	return result, nil
}
