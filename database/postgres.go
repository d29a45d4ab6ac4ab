package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hkipo/hkex-ipo-backend/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var DB *sql.DB

// Connect establishes the database connection with a bounded pool. The store
// is optional: callers skip Connect entirely when no DATABASE_URL is set and
// the service runs in-memory only.
func Connect(dbURL string) error {
	var err error
	DB, err = sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(10)
	DB.SetConnMaxLifetime(5 * time.Minute)
	DB.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"max_open_conns": 25,
		"max_idle_conns": 10,
	}).Info("Connected to database successfully")

	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logrus.Info("Database connection closed")
	}
}

// Migrate creates the snapshot table when it does not exist yet.
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("database connection not established")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS calendar_snapshots (
			id           BIGSERIAL PRIMARY KEY,
			record_count INTEGER NOT NULL,
			data_origin  VARCHAR(20) NOT NULL,
			payload      JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_snapshots_created_at
			ON calendar_snapshots(created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// HealthCheck pings the database and inspects the pool.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database connection not established")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stats := DB.Stats()
	logrus.WithFields(logrus.Fields{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}).Debug("Database connection pool health check")

	return nil
}

// GetConnectionStats returns current database connection pool statistics.
func GetConnectionStats() sql.DBStats {
	if DB == nil {
		return sql.DBStats{}
	}
	return DB.Stats()
}

// SnapshotStore persists reconciled calendar snapshots so the last good
// dataset survives restarts and stays queryable for audits.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot stores the full reconciled record set as one row. Origin is
// taken from the first record since a run is homogeneous.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, records []models.IPORecord) error {
	if s.db == nil {
		return fmt.Errorf("database connection not established")
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	origin := string(models.OriginLive)
	if len(records) > 0 {
		origin = string(records[0].DataOrigin)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendar_snapshots (record_count, data_origin, payload) VALUES ($1, $2, $3)`,
		len(records), origin, payload)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"record_count": len(records),
		"data_origin":  origin,
	}).Info("Saved calendar snapshot")
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot, or nil records when
// none has been stored yet.
func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context) ([]models.IPORecord, time.Time, error) {
	if s.db == nil {
		return nil, time.Time{}, fmt.Errorf("database connection not established")
	}

	var payload []byte
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM calendar_snapshots ORDER BY created_at DESC LIMIT 1`,
	).Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var records []models.IPORecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return records, createdAt, nil
}

// PruneSnapshots deletes snapshots older than the retention window, keeping
// at least the newest row.
func (s *SnapshotStore) PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database connection not established")
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_snapshots
		 WHERE created_at < $1
		   AND id <> (SELECT id FROM calendar_snapshots ORDER BY created_at DESC LIMIT 1)`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logrus.WithField("deleted", deleted).Info("Pruned old calendar snapshots")
	}
	return deleted, nil
}
