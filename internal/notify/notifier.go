package notify

import (
	"context"
	"time"

	"github.com/jogardn/bespoke-orders/internal/breaker"
	"github.com/jogardn/bespoke-orders/internal/fulfillment"
	"github.com/sirupsen/logrus"
)

const (
	IntegrationEmail       = "email"
	IntegrationSpreadsheet = "spreadsheet"
)

type Config struct {
	Company   string
	TeamEmail string
}

// Notifier performs the post-payment side effects. Each action is tried
// once and its failure never affects the others.
type Notifier struct {
	mailer   Mailer
	sheet    SheetAppender
	breakers *breaker.Registry
	cfg      Config
	now      func() time.Time
	logger   *logrus.Logger
}

func NewNotifier(mailer Mailer, sheet SheetAppender, breakers *breaker.Registry, cfg Config, logger *logrus.Logger) *Notifier {
	if cfg.Company == "" {
		cfg.Company = "Stallion & Co."
	}
	return &Notifier{
		mailer:   mailer,
		sheet:    sheet,
		breakers: breakers,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

func (n *Notifier) Run(ctx context.Context, task fulfillment.Task) fulfillment.Result {
	var res fulfillment.Result
	switch task.Kind {
	case fulfillment.KindConfirmation:
		res.CustomerEmail = n.sendCustomerConfirmation(ctx, task)
		res.TeamEmail = n.sendTeamNotification(ctx, task)
		res.SheetRow = n.appendRow(ctx, task)
	case fulfillment.KindReminder:
		res.ReminderEmail = n.sendReminder(ctx, task)
	default:
		n.logger.WithFields(logrus.Fields{
			"kind":     task.Kind,
			"order_id": task.Order.ID,
		}).Warn("Unknown fulfillment task kind")
	}
	return res
}

func (n *Notifier) sendCustomerConfirmation(ctx context.Context, task fulfillment.Task) bool {
	data := newEmailData(task.Order, n.cfg.Company, n.now())
	body, err := render(confirmationTmpl, data)
	if err != nil {
		return n.failed(task, "customer_email", err)
	}
	return n.send(ctx, task, "customer_email", Message{
		To:      task.Order.CustomerInfo.Email,
		Subject: "Order Confirmation - " + task.Order.ID + " | " + n.cfg.Company,
		Body:    body,
	})
}

func (n *Notifier) sendTeamNotification(ctx context.Context, task fulfillment.Task) bool {
	if n.cfg.TeamEmail == "" {
		n.logger.WithField("order_id", task.Order.ID).Warn("Team email not configured, skipping notification")
		return true
	}
	data := newEmailData(task.Order, n.cfg.Company, n.now())
	data.PaymentID = task.PaymentID
	body, err := render(teamTmpl, data)
	if err != nil {
		return n.failed(task, "team_email", err)
	}
	return n.send(ctx, task, "team_email", Message{
		To:      n.cfg.TeamEmail,
		Subject: "New Order Received - " + task.Order.ID + " | Payment Confirmed",
		Body:    body,
	})
}

func (n *Notifier) sendReminder(ctx context.Context, task fulfillment.Task) bool {
	data := newEmailData(task.Order, n.cfg.Company, n.now())
	data.PaymentLink = task.PaymentLink
	body, err := render(reminderTmpl, data)
	if err != nil {
		return n.failed(task, "reminder_email", err)
	}
	return n.send(ctx, task, "reminder_email", Message{
		To:      task.Order.CustomerInfo.Email,
		Subject: "Complete Your Order - " + task.Order.ID + " | " + n.cfg.Company,
		Body:    body,
	})
}

func (n *Notifier) send(ctx context.Context, task fulfillment.Task, action string, msg Message) bool {
	err := n.breakers.Get(IntegrationEmail).Execute(ctx, func(ctx context.Context) error {
		return n.mailer.Send(ctx, msg)
	})
	if err != nil {
		return n.failed(task, action, err)
	}
	return true
}

func (n *Notifier) appendRow(ctx context.Context, task fulfillment.Task) bool {
	row := Row(task.Order, task.PaymentID, n.now())
	err := n.breakers.Get(IntegrationSpreadsheet).Execute(ctx, func(ctx context.Context) error {
		return n.sheet.Append(ctx, row)
	})
	if err != nil {
		return n.failed(task, "sheet_row", err)
	}
	return true
}

func (n *Notifier) failed(task fulfillment.Task, action string, err error) bool {
	n.logger.WithError(err).WithFields(logrus.Fields{
		"order_id": task.Order.ID,
		"action":   action,
	}).Error("Fulfillment action failed")
	return false
}
