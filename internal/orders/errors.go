package orders

import (
	"errors"
	"fmt"

	"github.com/jogardn/bespoke-orders/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

// TransitionError reports a lifecycle operation that is not allowed from
// the order's current status.
type TransitionError struct {
	OrderID string
	From    models.OrderStatus
	To      models.OrderStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("order %s: %s", e.OrderID, e.Reason)
	}
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
