package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jogardn/delivery-tracker/pkg/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type PostgresSink struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresSink connects, waits for the database for up to attempts pings
// and creates the journal table.
func NewPostgresSink(ctx context.Context, dsn string, attempts int, logger *logrus.Logger) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	for i := 0; ; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			logger.Info("Journal database connection established")
			break
		}
		if i+1 >= attempts {
			db.Close()
			return nil, fmt.Errorf("journal database not reachable: %w", err)
		}
		logger.Info("Waiting for journal database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal tables: %w", err)
	}
	return &PostgresSink{db: db, logger: logger}, nil
}

func (s *PostgresSink) Write(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_journal
			(id, kind, role, user_id, order_id, assignment_id, status, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, string(entry.Kind), string(entry.Role), entry.UserID,
		nullable(entry.OrderID), nullable(entry.AssignmentID), nullable(string(entry.Status)),
		nullable(entry.Detail), entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries for an order, newest first.
func (s *PostgresSink) Recent(ctx context.Context, orderID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, role, user_id, COALESCE(order_id, ''), COALESCE(assignment_id, ''),
			COALESCE(status, ''), COALESCE(detail, ''), recorded_at
		FROM tracking_journal
		WHERE order_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind, role, status string
		if err := rows.Scan(&e.ID, &kind, &role, &e.UserID, &e.OrderID, &e.AssignmentID, &status, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.Role = models.Role(role)
		e.Status = models.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tracking_journal (
			id VARCHAR(36) PRIMARY KEY,
			kind VARCHAR(50) NOT NULL,
			role VARCHAR(10) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			order_id VARCHAR(255),
			assignment_id VARCHAR(255),
			status VARCHAR(50),
			detail TEXT,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_journal_order_id ON tracking_journal(order_id, recorded_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
