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

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/metrics"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
	"mydraws-credits-go/internal/transform"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	localTitlePrefix = "Converted "
	aiTitlePrefix    = "Converted - "
)

// ConvertLocal runs the sketch filter in the calling goroutine. The child
// resource is created and the credit debited only after the transform succeeded.
func (s *Service) ConvertLocal(ctx context.Context, accountId, resourceId string) (*models.Resource, error) {
	source, err := s.authz.Resource(ctx, accountId, resourceId)
	if err != nil {
		return nil, err
	}

	cost, err := s.ledger.Authorize(ctx, accountId, ledger.OperationLocal)
	if err != nil {
		return nil, err
	}

	input, err := s.blobs.Get(ctx, source.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}

	output, err := runTransform(ctx, "local", s.local, input)
	if err != nil {
		zap.L().Warn("Local transform failed",
			zap.String("account_id", accountId),
			zap.String("resource_id", resourceId),
			zap.Error(err))
		return nil, err
	}

	child, err := s.storeChild(ctx, source, uuid.New().String(), localTitlePrefix, output)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Debit(ctx, accountId, cost, string(ledger.OperationLocal), "local:"+child.Id); err != nil {
		s.removeResource(context.WithoutCancel(ctx), child)
		return nil, err
	}

	zap.L().Info("Local transform completed",
		zap.String("account_id", accountId),
		zap.String("source_id", source.Id),
		zap.String("resource_id", child.Id))
	return child, nil
}

// SubmitAsyncTransform enqueues a generative transform and returns the handle
// the caller polls with. A live handle for the same resource is reused.
func (s *Service) SubmitAsyncTransform(ctx context.Context, accountId, resourceId string) (*models.JobHandle, error) {
	if _, err := s.authz.Resource(ctx, accountId, resourceId); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Authorize(ctx, accountId, ledger.OperationAIGeneration); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := s.store.GetHandle(ctx, accountId, resourceId)
	switch {
	case err == nil && !existing.Expired(now):
		zap.L().Info("Reusing in-flight transform",
			zap.String("account_id", accountId),
			zap.String("resource_id", resourceId),
			zap.String("job_id", existing.JobId))
		return existing, nil
	case err != nil && !errors.Is(err, store.ErrHandleNotFound):
		return nil, err
	}

	jobId, err := s.runner.Submit(ctx, models.Job{
		Kind:             jobs.KindAITransform,
		AccountId:        accountId,
		ResourceId:       resourceId,
		ResultResourceId: uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue transform: %w", err)
	}

	handle := models.JobHandle{
		AccountId:  accountId,
		ResourceId: resourceId,
		JobId:      jobId,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.handleTTL),
	}
	if err := s.store.RegisterHandle(ctx, handle); err != nil {
		return nil, err
	}

	zap.L().Info("Generative transform submitted",
		zap.String("account_id", accountId),
		zap.String("resource_id", resourceId),
		zap.String("job_id", jobId))
	return &handle, nil
}

// PollAsyncTransform reports the job behind (account, resource). A terminal
// state is delivered once: the handle is removed before returning it.
func (s *Service) PollAsyncTransform(ctx context.Context, accountId, resourceId string) (*models.PollResult, error) {
	handle, err := s.store.GetHandle(ctx, accountId, resourceId)
	if errors.Is(err, store.ErrHandleNotFound) {
		return &models.PollResult{Status: models.PollNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if handle.Expired(time.Now().UTC()) {
		zap.L().Warn("Expired transform handle",
			zap.String("account_id", accountId),
			zap.String("resource_id", resourceId),
			zap.String("job_id", handle.JobId))
		if err := s.store.DeleteHandle(ctx, accountId, resourceId); err != nil {
			return nil, err
		}
		return &models.PollResult{Status: models.PollNotFound}, nil
	}

	state, err := s.runner.GetState(ctx, handle.JobId)
	if errors.Is(err, store.ErrJobNotFound) {
		if err := s.store.DeleteHandle(ctx, accountId, resourceId); err != nil {
			return nil, err
		}
		return &models.PollResult{Status: models.PollNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &models.PollResult{JobId: handle.JobId}
	switch state.Status {
	case models.JobStatusSuccess:
		result.Status = models.PollDone
		result.ResourceId = state.Result
	case models.JobStatusFailure:
		result.Status = models.PollError
		result.Error = state.Error
	default:
		result.Status = models.PollPending
		return result, nil
	}

	if err := s.store.DeleteHandle(ctx, accountId, resourceId); err != nil {
		return nil, err
	}
	return result, nil
}

// AITransformHandler returns the worker handler for jobs.KindAITransform. It
// is the only place a generative result becomes a resource and is paid for.
func (s *Service) AITransformHandler(remote transform.Transformer) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job *models.Job) (string, error) {
		return s.runAITransform(ctx, remote, job)
	})
}

func (s *Service) runAITransform(ctx context.Context, remote transform.Transformer, job *models.Job) (string, error) {
	source, err := s.authz.Resource(ctx, job.AccountId, job.ResourceId)
	if err != nil {
		if errors.Is(err, store.ErrResourceNotFound) || errors.Is(err, store.ErrNotOwner) {
			return "", jobs.Permanent(err)
		}
		return "", err
	}

	cost, err := ledger.Price(ledger.OperationAIGeneration)
	if err != nil {
		return "", jobs.Permanent(err)
	}

	// A previous attempt may have stored the result and then failed to debit.
	child, err := s.store.GetResource(ctx, job.ResultResourceId)
	if errors.Is(err, store.ErrResourceNotFound) {
		child, err = s.produceAIResult(ctx, remote, source, job, cost)
	}
	if err != nil {
		return "", err
	}

	_, err = s.ledger.Debit(ctx, job.AccountId, cost, string(ledger.OperationAIGeneration), "job:"+job.Id)
	switch {
	case err == nil, errors.Is(err, store.ErrDuplicateTransaction):
	case errors.Is(err, store.ErrInsufficientCredits):
		s.removeResource(context.WithoutCancel(ctx), child)
		return "", jobs.Permanent(err)
	default:
		return "", err
	}

	zap.L().Info("Generative transform completed",
		zap.String("job_id", job.Id),
		zap.String("account_id", job.AccountId),
		zap.String("source_id", source.Id),
		zap.String("resource_id", child.Id))
	return child.Id, nil
}

func (s *Service) produceAIResult(ctx context.Context, remote transform.Transformer, source *models.Resource, job *models.Job, cost int64) (*models.Resource, error) {
	ok, err := s.ledger.HasSufficientCredits(ctx, job.AccountId, cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, jobs.Permanent(fmt.Errorf("%w: %s costs %d", store.ErrInsufficientCredits, ledger.OperationAIGeneration, cost))
	}

	input, err := s.blobs.Get(ctx, source.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}

	output, err := runTransform(ctx, "ai", remote, input)
	if err != nil {
		return nil, jobs.Permanent(err)
	}

	child, err := s.storeChild(ctx, source, job.ResultResourceId, aiTitlePrefix, output)
	if errors.Is(err, store.ErrResourceExists) {
		return s.store.GetResource(ctx, job.ResultResourceId)
	}
	return child, err
}

// storeChild writes output under a new resource derived from source.
func (s *Service) storeChild(ctx context.Context, source *models.Resource, id, titlePrefix string, output []byte) (*models.Resource, error) {
	key := blobKey(source.AccountId, id)
	if err := s.blobs.Put(ctx, key, output, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("failed to store transform output: %w", err)
	}

	child, err := s.store.CreateResource(ctx, models.Resource{
		Id:          id,
		AccountId:   source.AccountId,
		Title:       titlePrefix + source.Title,
		BlobKey:     key,
		ContentType: "image/jpeg",
		BasedOn:     source.Id,
	})
	if err != nil {
		if !errors.Is(err, store.ErrResourceExists) {
			s.removeBlob(ctx, key)
		}
		return nil, err
	}
	return child, nil
}

func runTransform(ctx context.Context, kind string, t transform.Transformer, input []byte) ([]byte, error) {
	start := time.Now()
	output, err := t.Transform(ctx, input)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.TransformDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
	return output, err
}
