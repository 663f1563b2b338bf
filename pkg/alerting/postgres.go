package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// Schema creates the alert archive table
const Schema = `
CREATE TABLE IF NOT EXISTS resilience_alerts (
	id              BIGSERIAL PRIMARY KEY,
	report_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	code            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	category        TEXT NOT NULL,
	message         TEXT NOT NULL,
	reason          TEXT NOT NULL,
	recovery_action TEXT NOT NULL,
	correlation_id  TEXT NOT NULL DEFAULT '',
	component       TEXT NOT NULL DEFAULT '',
	operation       TEXT NOT NULL DEFAULT '',
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resilience_alerts_created_at ON resilience_alerts (created_at DESC);
`

// OpenPostgres connects to Postgres with the pool settings of cfg
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// alertRow is the stored form of an alert
type alertRow struct {
	ReportID       string    `db:"report_id"`
	Name           string    `db:"name"`
	Code           string    `db:"code"`
	Severity       string    `db:"severity"`
	Category       string    `db:"category"`
	Message        string    `db:"message"`
	Reason         string    `db:"reason"`
	RecoveryAction string    `db:"recovery_action"`
	CorrelationID  string    `db:"correlation_id"`
	Component      string    `db:"component"`
	Operation      string    `db:"operation"`
	Payload        []byte    `db:"payload"`
	CreatedAt      time.Time `db:"created_at"`
}

// PostgresSink archives alerts in the resilience_alerts table
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink creates a Postgres sink
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the table when it does not exist
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create alert table: %w", err)
	}
	return nil
}

// Name returns the sink name
func (s *PostgresSink) Name() string {
	return "postgres"
}

// Deliver inserts the alert
func (s *PostgresSink) Deliver(ctx context.Context, alert resilience.AlertPayload) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	row := alertRow{
		ReportID:       alert.ReportID,
		Name:           alert.Name,
		Code:           alert.Code,
		Severity:       string(alert.Severity),
		Category:       string(alert.Category),
		Message:        alert.Message,
		Reason:         string(alert.Reason),
		RecoveryAction: string(alert.RecoveryAction),
		CorrelationID:  alert.Context.CorrelationID,
		Component:      alert.Context.Component,
		Operation:      alert.Context.Operation,
		Payload:        payload,
		CreatedAt:      alert.Timestamp,
	}

	query := `
		INSERT INTO resilience_alerts (
			report_id, name, code, severity, category, message, reason,
			recovery_action, correlation_id, component, operation, payload, created_at
		) VALUES (
			:report_id, :name, :code, :severity, :category, :message, :reason,
			:recovery_action, :correlation_id, :component, :operation, :payload, :created_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Recent returns up to limit archived alerts, newest first
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]resilience.AlertPayload, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []alertRow
	query := `
		SELECT report_id, name, code, severity, category, message, reason,
		       recovery_action, correlation_id, component, operation, payload, created_at
		FROM resilience_alerts
		ORDER BY created_at DESC
		LIMIT $1`

	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	alerts := make([]resilience.AlertPayload, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, row.toPayload())
	}
	return alerts, nil
}

func (r alertRow) toPayload() resilience.AlertPayload {
	var alert resilience.AlertPayload
	if err := json.Unmarshal(r.Payload, &alert); err == nil {
		return alert
	}

	return resilience.AlertPayload{
		ReportID:       r.ReportID,
		Name:           r.Name,
		Code:           r.Code,
		Severity:       errors.Severity(r.Severity),
		Category:       errors.Category(r.Category),
		Message:        r.Message,
		Reason:         resilience.AlertReason(r.Reason),
		RecoveryAction: resilience.RecoveryAction(r.RecoveryAction),
		Context: resilience.OperationContext{
			CorrelationID: r.CorrelationID,
			Component:     r.Component,
			Operation:     r.Operation,
		},
		Timestamp: r.CreatedAt,
	}
}
