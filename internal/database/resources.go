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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanResource(row rowScanner) (*models.Resource, error) {
	var r models.Resource
	err := row.Scan(&r.Id, &r.AccountId, &r.Title, &r.BlobKey, &r.ContentType, &r.BasedOn, &r.BookId, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanBook(row rowScanner) (*models.Book, error) {
	var b models.Book
	err := row.Scan(&b.Id, &b.AccountId, &b.Title, &b.Description, &b.Author, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// checkOwner verifies that the row found by query belongs to accountId.
func checkOwner(ctx context.Context, tx *sql.Tx, query, id, accountId string, notFound error) error {
	var owner string
	err := tx.QueryRowContext(ctx, query, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to look up owner: %w", err)
	}
	if owner != accountId {
		return fmt.Errorf("%w: %s", store.ErrNotOwner, id)
	}
	return nil
}

// CreateResource persists a resource. A parent or book must belong to the same account.
func (s *Service) CreateResource(ctx context.Context, resource models.Resource) (*models.Resource, error) {
	if resource.Id == "" {
		resource.Id = uuid.New().String()
	}
	if resource.ContentType == "" {
		resource.ContentType = "image/jpeg"
	}
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if resource.BasedOn != "" {
		if err := checkOwner(ctx, tx, queryGetOwner, resource.BasedOn, resource.AccountId, store.ErrResourceNotFound); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
	}
	if resource.BookId != "" {
		if err := checkOwner(ctx, tx, queryGetBookOwner, resource.BookId, resource.AccountId, store.ErrBookNotFound); err != nil {
			return nil, fmt.Errorf("invalid book: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, queryInsertResource,
		resource.Id, resource.AccountId, resource.Title, resource.BlobKey, resource.ContentType,
		nullIfEmpty(resource.BasedOn), nullIfEmpty(resource.BookId), resource.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrResourceExists, resource.Id)
		}
		return nil, fmt.Errorf("failed to insert resource: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resource: %w", err)
	}

	zap.L().Info("Resource created",
		zap.String("resource_id", resource.Id),
		zap.String("account_id", resource.AccountId),
		zap.String("based_on", resource.BasedOn))

	return &resource, nil
}

func (s *Service) GetResource(ctx context.Context, resourceId string) (*models.Resource, error) {
	resource, err := scanResource(s.db.QueryRowContext(ctx, queryGetResource, resourceId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrResourceNotFound, resourceId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return resource, nil
}

// ListResources returns the account's resources, optionally filtered by book
func (s *Service) ListResources(ctx context.Context, accountId, bookId string) ([]models.Resource, error) {
	var rows *sql.Rows
	var err error
	if bookId == "" {
		rows, err = s.db.QueryContext(ctx, queryListResources, accountId)
	} else {
		rows, err = s.db.QueryContext(ctx, queryListBookResources, accountId, bookId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer closeRows(rows)

	var resources []models.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *resource)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource rows: %w", err)
	}
	return resources, nil
}

// DeleteResource removes a resource. Its children become roots.
func (s *Service) DeleteResource(ctx context.Context, resourceId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	orphaned, err := tx.ExecContext(ctx, queryOrphanChildren, resourceId)
	if err != nil {
		return fmt.Errorf("failed to detach children: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryDeleteResource, resourceId)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrResourceNotFound, resourceId)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resource deletion: %w", err)
	}

	children, _ := orphaned.RowsAffected()
	zap.L().Info("Resource deleted",
		zap.String("resource_id", resourceId),
		zap.Int64("orphaned_children", children))
	return nil
}

// AssignBook groups a resource under a book of the same owner. An empty bookId ungroups it.
func (s *Service) AssignBook(ctx context.Context, resourceId, bookId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var owner string
	err = tx.QueryRowContext(ctx, queryGetOwner, resourceId).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrResourceNotFound, resourceId)
	}
	if err != nil {
		return fmt.Errorf("failed to look up resource: %w", err)
	}

	if bookId != "" {
		if err := checkOwner(ctx, tx, queryGetBookOwner, bookId, owner, store.ErrBookNotFound); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, queryAssignBook, nullIfEmpty(bookId), resourceId); err != nil {
		return fmt.Errorf("failed to assign book: %w", err)
	}
	return tx.Commit()
}

func (s *Service) CreateBook(ctx context.Context, book models.Book) (*models.Book, error) {
	if book.Id == "" {
		book.Id = uuid.New().String()
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, queryInsertBook,
		book.Id, book.AccountId, book.Title, book.Description, book.Author, book.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	zap.L().Info("Book created", zap.String("book_id", book.Id), zap.String("account_id", book.AccountId))
	return &book, nil
}

func (s *Service) GetBook(ctx context.Context, bookId string) (*models.Book, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx, queryGetBook, bookId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrBookNotFound, bookId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

func (s *Service) ListBooks(ctx context.Context, accountId string) ([]models.Book, error) {
	rows, err := s.db.QueryContext(ctx, queryListBooks, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer closeRows(rows)

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}
	return books, nil
}

// DeleteBook removes a book and ungroups its resources
func (s *Service) DeleteBook(ctx context.Context, bookId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, queryUngroupBookResources, bookId); err != nil {
		return fmt.Errorf("failed to ungroup resources: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryDeleteBook, bookId)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrBookNotFound, bookId)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit book deletion: %w", err)
	}

	zap.L().Info("Book deleted", zap.String("book_id", bookId))
	return nil
}
