// Package archive persists resolved advice reports to PostgreSQL and
// prunes old rows on a schedule.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"

	"github.com/vietddude/qerrors/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds archive settings.
type Config struct {
	DatabaseURL string
	Retention   time.Duration // rows older than this are purged
	Sweep       string        // cron spec for the purge job
}

// Record is one archived advice report.
type Record struct {
	ID          string    `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	Message     string    `db:"message"`
	Stack       string    `db:"stack"`
	Context     string    `db:"context"`
	Advice      []byte    `db:"advice"`
	CreatedAt   time.Time `db:"created_at"`
}

// Archive stores advice reports in PostgreSQL.
type Archive struct {
	db        *sqlx.DB
	cron      *cron.Cron
	retention time.Duration
	log       *slog.Logger
}

// Open connects, migrates the schema, and starts the retention sweeper.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Archive, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Goose needs the plain *sql.DB that sqlx wraps.
	if err := migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	a := &Archive{
		db:        db,
		retention: cfg.Retention,
		log:       log.With("component", "archive"),
	}

	if cfg.Retention > 0 && cfg.Sweep != "" {
		if err := a.startSweeper(cfg.Sweep); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to schedule sweep: %w", err)
		}
	}

	return a, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Insert stores one advice report. A missing ID is filled in.
func (a *Archive) Insert(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO advice_reports (id, fingerprint, message, stack, context, advice, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := a.db.ExecContext(
		ctx,
		query,
		id,
		rec.Fingerprint,
		rec.Message,
		rec.Stack,
		rec.Context,
		rec.Advice,
	)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to insert advice report: %w", err)
	}

	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	return nil
}

// RecentByFingerprint returns the newest reports for a fingerprint.
func (a *Archive) RecentByFingerprint(ctx context.Context, fingerprint string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, fingerprint, message, stack, context, advice, created_at
		FROM advice_reports
		WHERE fingerprint = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var recs []Record
	if err := a.db.SelectContext(ctx, &recs, query, fingerprint, limit); err != nil {
		return nil, fmt.Errorf("failed to query advice reports: %w", err)
	}
	return recs, nil
}

// DeleteOlderThan removes reports created before the cutoff and returns
// how many rows went away.
func (a *Archive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM advice_reports WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old reports: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of archived reports.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM advice_reports`); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// Close stops the sweeper and closes the database.
func (a *Archive) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}
	return a.db.Close()
}
