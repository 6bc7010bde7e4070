package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jogardn/bespoke-orders/pkg/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresStore keeps each order as a JSONB document next to a few
// indexed columns used for listing.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait for database to be ready
	var pingErr error
	for i := 0; i < 30; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("database not reachable: %w", pingErr)
	}

	s := newPostgresStore(db, logger)
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func newPostgresStore(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id VARCHAR(64) PRIMARY KEY,
			order_status VARCHAR(32) NOT NULL,
			customer_email VARCHAR(255) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS virtual_fittings (
			id VARCHAR(64) PRIMARY KEY,
			customer_email VARCHAR(255) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_status ON measurements(order_status)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_created_at ON measurements(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, draft *models.Order) (*models.Order, error) {
	order := newOrder(draft, s.now().UTC())

	doc, err := json.Marshal(order)
	if err != nil {
		return nil, storageErr("create", err)
	}

	query := `
		INSERT INTO measurements (id, order_status, customer_email, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query, order.ID, order.Status, order.CustomerInfo.Email,
		doc, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, storageErr("create", err)
	}
	return order, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Order, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM measurements WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	return decodeOrder(doc)
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("update", err)
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT document FROM measurements WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("update", err)
	}

	order, err := decodeOrder(doc)
	if err != nil {
		return nil, err
	}
	patch.Apply(order, s.now().UTC())

	doc, err = json.Marshal(order)
	if err != nil {
		return nil, storageErr("update", err)
	}

	query := `
		UPDATE measurements SET order_status = $2, document = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, id, order.Status, doc, order.UpdatedAt); err != nil {
		return nil, storageErr("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("update", err)
	}
	return order, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Order, error) {
	query := `SELECT document FROM measurements`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE order_status = $1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, storageErr("list", err)
		}
		order, err := decodeOrder(doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return orders, nil
}

func (s *PostgresStore) CreateFitting(ctx context.Context, req models.FittingRequest) (*models.VirtualFitting, error) {
	fitting := newFitting(req, s.now().UTC())

	doc, err := json.Marshal(fitting)
	if err != nil {
		return nil, storageErr("create fitting", err)
	}

	query := `
		INSERT INTO virtual_fittings (id, customer_email, document, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, fitting.ID, fitting.CustomerInfo.Email, doc, fitting.CreatedAt); err != nil {
		return nil, storageErr("create fitting", err)
	}
	return fitting, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func decodeOrder(doc []byte) (*models.Order, error) {
	var order models.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, storageErr("decode", err)
	}
	return &order, nil
}
