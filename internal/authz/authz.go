// Package authz answers "does this entity belong to this account" for every
// operation that touches a resource or a book.
package authz

import (
	"context"
	"fmt"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

type Authorizer struct {
	resources store.ResourceStore
}

func NewAuthorizer(resources store.ResourceStore) *Authorizer {
	return &Authorizer{resources: resources}
}

// Resource returns the resource when accountId owns it.
func (a *Authorizer) Resource(ctx context.Context, accountId, resourceId string) (*models.Resource, error) {
	resource, err := a.resources.GetResource(ctx, resourceId)
	if err != nil {
		return nil, err
	}
	if resource.AccountId != accountId {
		zap.L().Warn("Resource access denied",
			zap.String("account_id", accountId),
			zap.String("resource_id", resourceId))
		return nil, fmt.Errorf("%w: resource %s", store.ErrNotOwner, resourceId)
	}
	return resource, nil
}

// Book returns the book when accountId owns it.
func (a *Authorizer) Book(ctx context.Context, accountId, bookId string) (*models.Book, error) {
	book, err := a.resources.GetBook(ctx, bookId)
	if err != nil {
		return nil, err
	}
	if book.AccountId != accountId {
		zap.L().Warn("Book access denied",
			zap.String("account_id", accountId),
			zap.String("book_id", bookId))
		return nil, fmt.Errorf("%w: book %s", store.ErrNotOwner, bookId)
	}
	return book, nil
}
