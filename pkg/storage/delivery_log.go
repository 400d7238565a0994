package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultQueueSize bounds records waiting for the writer
	DefaultQueueSize = 1024

	// DefaultRetention is how long records are kept
	DefaultRetention = 30 * 24 * time.Hour
)

var ErrLogClosed = errors.New("delivery log closed")

// Outcome is the result of one routing decision
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeMalformed Outcome = "malformed"
	OutcomeList      Outcome = "list"
)

// DeliveryRecord is one audited routing decision. It never carries message content.
type DeliveryRecord struct {
	ID          int64   `json:"id"`
	SenderID    int     `json:"sender_id"`
	RecipientID int     `json:"recipient_id,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Timestamp   int64   `json:"timestamp"` // Hour bucket
}

// DeliverySummary aggregates the log
type DeliverySummary struct {
	Total     int             `json:"total"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
	Dropped   uint64          `json:"dropped"`
	Oldest    int64           `json:"oldest,omitempty"`
}

type logOp struct {
	rec  DeliveryRecord
	sync chan struct{} // set for flush markers
}

// DeliveryLog persists routing decisions in SQLite.
// Record never blocks: records go through a buffered queue drained by one
// writer goroutine, and are dropped when the queue is full.
type DeliveryLog struct {
	db        *sql.DB
	retention time.Duration
	queue     chan logOp
	stop      chan struct{}
	dropped   atomic.Uint64
	mu        sync.RWMutex // held for writing only to close; orders enqueues before the final drain
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDeliveryLog opens (or creates) the log at dbPath.
// queueSize <= 0 selects DefaultQueueSize.
func NewDeliveryLog(dbPath string, queueSize int) (*DeliveryLog, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery log: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	l := &DeliveryLog{
		db:        db,
		retention: DefaultRetention,
		queue:     make(chan logOp, queueSize),
		stop:      make(chan struct{}),
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	l.wg.Add(2)
	go l.writer()
	go l.cleanupExpired()

	log.Printf("📒 Delivery log opened at %s", dbPath)
	return l, nil
}

func (l *DeliveryLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		recipient_id INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	-- Index for retention cleanup
	CREATE INDEX IF NOT EXISTS idx_deliveries_timestamp ON deliveries(timestamp);

	CREATE INDEX IF NOT EXISTS idx_deliveries_outcome ON deliveries(outcome);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record queues rec for writing; it is dropped if the queue is full or the log closed
func (l *DeliveryLog) Record(rec DeliveryRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}

	select {
	case l.queue <- logOp{rec: rec}:
	default:
		if l.dropped.Add(1)%100 == 1 {
			log.Printf("⚠️  Delivery log queue full, dropping records")
		}
	}
}

// Flush blocks until every record queued before the call is written
func (l *DeliveryLog) Flush() error {
	done := make(chan struct{})
	if err := l.enqueueMarker(done); err != nil {
		return err
	}

	// the writer drains every queued op before it exits, markers included
	<-done
	return nil
}

// enqueueMarker blocks until the writer has room; the writer runs until Close holds mu
func (l *DeliveryLog) enqueueMarker(done chan struct{}) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLogClosed
	}
	l.queue <- logOp{sync: done}
	return nil
}

// Dropped returns the number of records lost to a full queue or a closed log
func (l *DeliveryLog) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *DeliveryLog) writer() {
	defer l.wg.Done()

	for {
		select {
		case op := <-l.queue:
			l.apply(op)
		case <-l.stop:
			// drain what was queued before close
			for {
				select {
				case op := <-l.queue:
					l.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (l *DeliveryLog) apply(op logOp) {
	if op.sync != nil {
		close(op.sync)
		return
	}
	if err := l.insert(op.rec); err != nil {
		log.Printf("Failed to write delivery record: %v", err)
	}
}

func (l *DeliveryLog) insert(rec DeliveryRecord) error {
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	query := `
		INSERT INTO deliveries (sender_id, recipient_id, outcome, timestamp)
		VALUES (?, ?, ?, ?)
	`
	if _, err := l.db.Exec(query, rec.SenderID, rec.RecipientID, string(rec.Outcome), bucketTimestamp(ts)); err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

// Summary returns counts per outcome
func (l *DeliveryLog) Summary() (DeliverySummary, error) {
	summary := DeliverySummary{
		ByOutcome: make(map[Outcome]int),
		Dropped:   l.dropped.Load(),
	}

	rows, err := l.db.Query(`SELECT outcome, COUNT(*) FROM deliveries GROUP BY outcome`)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return summary, fmt.Errorf("failed to scan summary: %w", err)
		}
		summary.ByOutcome[Outcome(outcome)] = count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	var oldest sql.NullInt64
	if err := l.db.QueryRow(`SELECT MIN(timestamp) FROM deliveries`).Scan(&oldest); err != nil {
		return summary, fmt.Errorf("failed to get oldest delivery: %w", err)
	}
	if oldest.Valid {
		summary.Oldest = oldest.Int64
	}

	return summary, nil
}

// Recent returns up to limit records, newest first
func (l *DeliveryLog) Recent(limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sender_id, recipient_id, outcome, timestamp
		FROM deliveries
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := l.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get deliveries: %w", err)
	}
	defer rows.Close()

	records := []DeliveryRecord{}
	for rows.Next() {
		var rec DeliveryRecord
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.SenderID, &rec.RecipientID, &outcome, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PurgeBefore removes records older than cutoff (unix seconds)
func (l *DeliveryLog) PurgeBefore(cutoff int64) (int64, error) {
	result, err := l.db.Exec(`DELETE FROM deliveries WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	return result.RowsAffected()
}

// cleanupExpired periodically removes records past retention
func (l *DeliveryLog) cleanupExpired() {
	defer l.wg.Done()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			count, err := l.PurgeBefore(time.Now().Add(-l.retention).Unix())
			if err != nil {
				log.Printf("Failed to cleanup expired deliveries: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("🧹 Cleaned up %d expired delivery records", count)
			}
		}
	}
}

// Close drains the queue and closes the database
func (l *DeliveryLog) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.stop)
		l.mu.Unlock()

		l.wg.Wait()
		err = l.db.Close()
	})
	return err
}

// bucketTimestamp truncates ts to the start of its hour, so records only
// reveal when traffic happened to the hour
func bucketTimestamp(ts int64) int64 {
	return ts - ts%3600
}
