package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jogardn/bespoke-orders/pkg/models"
)

var ErrNotFound = errors.New("not found")

// StorageError wraps a failure of the underlying persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

type ListFilter struct {
	Status models.OrderStatus
	Limit  int
}

// Store persists orders and fitting bookings as whole documents.
// Updates are last-writer-wins.
type Store interface {
	Create(ctx context.Context, draft *models.Order) (*models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Order, error)
	CreateFitting(ctx context.Context, req models.FittingRequest) (*models.VirtualFitting, error)
	Ping(ctx context.Context) error
	Close() error
}
