// Package store persists flows, predictions, anomaly scores, and alerts
// to a single SQLite database using one transaction per flow.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"icc.tech/nds/internal/core"
)

const writeTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	initiator_ip TEXT NOT NULL,
	initiator_port INTEGER NOT NULL,
	responder_ip TEXT NOT NULL,
	responder_port INTEGER NOT NULL,
	protocol INTEGER NOT NULL,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	completion_reason TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_timestamp ON flows(timestamp DESC);

CREATE TABLE IF NOT EXISTS predictions (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL REFERENCES flows(id),
	predicted_label TEXT NOT NULL,
	confidence REAL NOT NULL,
	class_probabilities TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS anomaly_scores (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL REFERENCES flows(id),
	reconstruction_error REAL NOT NULL,
	anomaly_score REAL NOT NULL,
	threshold_used REAL NOT NULL,
	is_anomaly INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL REFERENCES flows(id),
	severity TEXT NOT NULL,
	attack_type TEXT,
	threat_score REAL NOT NULL,
	decision TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_severity_timestamp ON alerts(severity, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_flow_id ON alerts(flow_id);
`

// Store wraps the SQLite connection pool shared by the inference
// workers. Each worker checks out a connection per transaction via
// database/sql's internal pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PersistFlowResult is the one-transaction insert-or-rollback described
// in spec.md §4.6: the flow, its prediction, and its anomaly record are
// always inserted; the alert is inserted only when decision != normal.
// On any failure the whole transaction rolls back; the caller counts the
// failure and drops the flow without retry.
func (s *Store) PersistFlowResult(ctx context.Context, f *core.Flow, pred core.PredictionRecord, anomaly core.AnomalyRecord, alert *core.AlertRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flows (id, initiator_ip, initiator_port, responder_ip, responder_port, protocol, first_seen, last_seen, completion_reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Initiator.IP.String(), f.Initiator.Port, f.Responder.IP.String(), f.Responder.Port,
		f.Protocol, f.FirstSeen, f.LastSeen, string(f.Reason), f.LastSeen,
	); err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}

	classProbs, err := json.Marshal(pred.ClassProbabilities)
	if err != nil {
		return fmt.Errorf("marshal class probabilities: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO predictions (id, flow_id, predicted_label, confidence, class_probabilities) VALUES (?, ?, ?, ?, ?)`,
		pred.ID, f.ID, pred.PredictedLabel, pred.Confidence, string(classProbs),
	); err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO anomaly_scores (id, flow_id, reconstruction_error, anomaly_score, threshold_used, is_anomaly) VALUES (?, ?, ?, ?, ?, ?)`,
		anomaly.ID, f.ID, anomaly.ReconstructionError, anomaly.AnomalyScore, anomaly.ThresholdUsed, anomaly.IsAnomaly,
	); err != nil {
		return fmt.Errorf("insert anomaly score: %w", err)
	}

	if alert != nil {
		metadata, err := json.Marshal(alert.Metadata)
		if err != nil {
			return fmt.Errorf("marshal alert metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (id, flow_id, severity, attack_type, threat_score, decision, status, priority, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			alert.ID, f.ID, string(alert.Severity), alert.AttackType, alert.ThreatScore,
			string(alert.Decision), string(alert.Status), alert.Priority, string(metadata), alert.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
