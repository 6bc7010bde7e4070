package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
)

type Kind string

const (
	// KindConfirmation follows a verified payment: customer email, team
	// email and spreadsheet row.
	KindConfirmation Kind = "confirmation"
	// KindReminder follows a failed payment and carries a payment link.
	KindReminder Kind = "payment_reminder"
)

var (
	ErrQueueFull = errors.New("fulfillment queue is full")
	ErrClosed    = errors.New("fulfillment dispatcher is closed")
)

// Task is a snapshot of an order taken when the task was dispatched.
type Task struct {
	Kind        Kind         `json:"kind"`
	Order       models.Order `json:"order"`
	PaymentID   string       `json:"payment_id,omitempty"`
	PaymentLink string       `json:"payment_link,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
}

// Result reports each side effect independently. Fields that do not apply
// to the task kind stay false.
type Result struct {
	CustomerEmail bool `json:"customer_email"`
	TeamEmail     bool `json:"team_email"`
	SheetRow      bool `json:"sheet_row"`
	ReminderEmail bool `json:"reminder_email"`
}

// Runner performs the side effects of a task. It never fails as a whole.
type Runner interface {
	Run(ctx context.Context, task Task) Result
}

// Dispatcher hands a task off without waiting for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Failed lists the actions of the task's kind that did not succeed.
func (r Result) Failed(kind Kind) []string {
	var failed []string
	switch kind {
	case KindConfirmation:
		if !r.CustomerEmail {
			failed = append(failed, "customer_email")
		}
		if !r.TeamEmail {
			failed = append(failed, "team_email")
		}
		if !r.SheetRow {
			failed = append(failed, "sheet_row")
		}
	case KindReminder:
		if !r.ReminderEmail {
			failed = append(failed, "reminder_email")
		}
	}
	return failed
}
