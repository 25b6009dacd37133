package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidInput marks caller mistakes such as an empty title or a non-image upload.
var ErrInvalidInput = errors.New("invalid input")

// UploadResource stores data as a new root resource, optionally inside a book.
func (s *Service) UploadResource(ctx context.Context, accountId, title, bookId string, data []byte) (*models.Resource, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: expected an image, got %s", ErrInvalidInput, contentType)
	}
	if bookId != "" {
		if _, err := s.authz.Book(ctx, accountId, bookId); err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()
	key := blobKey(accountId, id)
	if err := s.blobs.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	resource, err := s.store.CreateResource(ctx, models.Resource{
		Id:          id,
		AccountId:   accountId,
		Title:       title,
		BlobKey:     key,
		ContentType: contentType,
		BookId:      bookId,
	})
	if err != nil {
		s.removeBlob(ctx, key)
		return nil, err
	}

	zap.L().Info("Resource uploaded",
		zap.String("account_id", accountId),
		zap.String("resource_id", id),
		zap.Int("bytes", len(data)))
	return resource, nil
}

func (s *Service) GetResource(ctx context.Context, accountId, resourceId string) (*models.Resource, error) {
	return s.authz.Resource(ctx, accountId, resourceId)
}

// ReadResourceContent returns the stored image bytes and content type.
func (s *Service) ReadResourceContent(ctx context.Context, accountId, resourceId string) ([]byte, string, error) {
	resource, err := s.authz.Resource(ctx, accountId, resourceId)
	if err != nil {
		return nil, "", err
	}
	data, err := s.blobs.Get(ctx, resource.BlobKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read resource %s: %w", resourceId, err)
	}
	return data, resource.ContentType, nil
}

// ListResources lists the account's resources, optionally limited to one book.
func (s *Service) ListResources(ctx context.Context, accountId, bookId string) ([]models.Resource, error) {
	if bookId != "" {
		if _, err := s.authz.Book(ctx, accountId, bookId); err != nil {
			return nil, err
		}
	}
	return s.store.ListResources(ctx, accountId, bookId)
}

// DeleteResource removes the resource and its blob. Children become roots.
func (s *Service) DeleteResource(ctx context.Context, accountId, resourceId string) error {
	resource, err := s.authz.Resource(ctx, accountId, resourceId)
	if err != nil {
		return err
	}
	if err := s.store.DeleteResource(ctx, resourceId); err != nil {
		return err
	}
	s.removeBlob(ctx, resource.BlobKey)

	zap.L().Info("Resource deleted",
		zap.String("account_id", accountId),
		zap.String("resource_id", resourceId))
	return nil
}

// AssignBook moves a resource into a book; an empty bookId ungroups it.
func (s *Service) AssignBook(ctx context.Context, accountId, resourceId, bookId string) error {
	if _, err := s.authz.Resource(ctx, accountId, resourceId); err != nil {
		return err
	}
	if bookId != "" {
		if _, err := s.authz.Book(ctx, accountId, bookId); err != nil {
			return err
		}
	}
	return s.store.AssignBook(ctx, resourceId, bookId)
}

func (s *Service) CreateBook(ctx context.Context, accountId, title, description, author string) (*models.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return s.store.CreateBook(ctx, models.Book{
		Id:          uuid.New().String(),
		AccountId:   accountId,
		Title:       title,
		Description: description,
		Author:      author,
	})
}

func (s *Service) ListBooks(ctx context.Context, accountId string) ([]models.Book, error) {
	return s.store.ListBooks(ctx, accountId)
}

// DeleteBook removes the book; its resources stay, ungrouped.
func (s *Service) DeleteBook(ctx context.Context, accountId, bookId string) error {
	if _, err := s.authz.Book(ctx, accountId, bookId); err != nil {
		return err
	}
	return s.store.DeleteBook(ctx, bookId)
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		zap.L().Warn("Failed to remove blob", zap.String("key", key), zap.Error(err))
	}
}

// removeResource undoes a resource created by a transform whose debit failed.
func (s *Service) removeResource(ctx context.Context, resource *models.Resource) {
	if err := s.store.DeleteResource(ctx, resource.Id); err != nil && !errors.Is(err, store.ErrResourceNotFound) {
		zap.L().Error("Failed to remove unpaid resource",
			zap.String("resource_id", resource.Id),
			zap.Error(err))
	}
	s.removeBlob(ctx, resource.BlobKey)
}
