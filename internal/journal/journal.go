// Package journal persists received MQTT messages in SQLite so they can be
// inspected after the subscriber exits.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// recordTimeout bounds a single insert made from a message handler.
	recordTimeout = 5 * time.Second
)

// ErrTopicRequired is returned when recording an entry without a topic.
var ErrTopicRequired = errors.New("journal: topic is required")

// Entry is one received message.
type Entry struct {
	ID         int64     `json:"id"`
	ClientID   string    `json:"client_id"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Topic  string    // optional exact topic
	Since  time.Time // optional lower bound on ReceivedAt
	Limit  int       // default 50, max 1000
	Offset int
}

// ListResult is a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines journal storage operations.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores entries in the messages table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal backed by db. The messages table
// must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts entry and sets its ID. ReceivedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.Topic == "" {
		return ErrTopicRequired
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (client_id, topic, payload, received_at) VALUES (?, ?, ?, ?)`,
		entry.ClientID, entry.Topic, []byte(entry.Payload), entry.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading journal entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, filter.Topic)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM messages " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, client_id, topic, payload, received_at FROM messages " + where + //nolint:gosec // WHERE built from parameterised conditions
		" ORDER BY received_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var payload []byte
		var receivedAt int64
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Topic, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Payload = string(payload)
		e.ReceivedAt = time.Unix(0, receivedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries received before the cutoff and reports how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE received_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// Handler returns a session.Handler that records every message for
// clientID. When next is non-nil it runs after the message is stored.
func Handler(repo Repository, clientID string, next session.Handler) session.Handler {
	return func(topic, body string) error {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := repo.Record(ctx, &Entry{ClientID: clientID, Topic: topic, Payload: body}); err != nil {
			return err
		}
		if next != nil {
			return next(topic, body)
		}
		return nil
	}
}
