package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"wagate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("ledger path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Row shapes; timestamps travel as RFC3339Nano text.

type messageRow struct {
	ID        string `db:"id"`
	Sender    string `db:"sender"`
	Recipient string `db:"recipient"`
	Content   string `db:"content"`
	Timestamp string `db:"timestamp"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
}

type transactionRow struct {
	ID           string         `db:"id"`
	MessageID    string         `db:"message_id"`
	Status       string         `db:"status"`
	Kind         string         `db:"type"`
	Timestamp    string         `db:"timestamp"`
	ErrorMessage sql.NullString `db:"error_message"`
	RetryCount   int            `db:"retry_count"`
	CreatedAt    string         `db:"created_at"`
}

type failedTransactionRow struct {
	transactionRow
	Content   string `db:"content"`
	Recipient string `db:"recipient"`
}

type bulkJobRow struct {
	ID          string         `db:"id"`
	Recipients  string         `db:"recipients"`
	Body        string         `db:"message"`
	IntervalMS  int64          `db:"interval_ms"`
	Status      string         `db:"status"`
	CreatedAt   string         `db:"created_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

func (s *sqliteStore) RecordAttempt(ctx context.Context, m Message, t Transaction) error {
	if t.MessageID != m.ID {
		return fmt.Errorf("transaction %s does not reference message %s", t.ID, m.ID)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sender, recipient, content, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Recipient, m.Content, formatTime(m.Timestamp), string(m.Status),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, message_id, status, type, timestamp, error_message, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MessageID, string(t.Status), string(t.Kind), formatTime(t.Timestamp),
		nullStr(t.ErrorMessage), t.RetryCount,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, recipient, content, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Recipient, m.Content, formatTime(m.Timestamp), string(m.Status),
	)
	return err
}

func (s *sqliteStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out, nil
}

func (s *sqliteStore) FailedTransactions(ctx context.Context, limit int) ([]FailedTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []failedTransactionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT t.*, m.content, m.recipient
		   FROM transactions t
		   JOIN messages m ON t.message_id = m.id
		  WHERE t.status = 'failed'
		  ORDER BY t.timestamp DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]FailedTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, FailedTransaction{
			Transaction: r.toTransaction(),
			Content:     r.Content,
			Recipient:   r.Recipient,
		})
	}
	return out, nil
}

func (s *sqliteStore) MessageByID(ctx context.Context, id string) (Message, error) {
	var r messageRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return r.toMessage(), nil
}

func (s *sqliteStore) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	var r transactionRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM transactions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	return r.toTransaction(), nil
}

func (s *sqliteStore) IncrementRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) ResolveRetry(ctx context.Context, id string, status TransactionStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, error_message = ?, timestamp = ? WHERE id = ?`,
		string(status), nullStr(errMsg), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) CreateBulkJob(ctx context.Context, j BulkJob) error {
	recips, err := json.Marshal(j.Recipients)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bulk_messages (id, recipients, message, interval_ms, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, string(recips), j.Body, j.Interval.Milliseconds(), string(j.Status), formatTime(j.CreatedAt),
	)
	return err
}

func (s *sqliteStore) SetBulkJobStatus(ctx context.Context, id string, status BulkJobStatus, completedAt *time.Time) error {
	var done any
	if completedAt != nil {
		done = formatTime(*completedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE bulk_messages SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), done, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) BulkJobByID(ctx context.Context, id string) (BulkJob, error) {
	var r bulkJobRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM bulk_messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return BulkJob{}, ErrNotFound
	}
	if err != nil {
		return BulkJob{}, err
	}
	return r.toBulkJob()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := formatTime(cutoff)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transactions WHERE message_id IN (SELECT id FROM messages WHERE timestamp < ?)`, ts); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, ts)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM bulk_messages WHERE created_at < ?`, ts); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:        r.ID,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Content:   r.Content,
		Timestamp: parseTime(r.Timestamp),
		Status:    MessageStatus(r.Status),
	}
}

func (r transactionRow) toTransaction() Transaction {
	return Transaction{
		ID:           r.ID,
		MessageID:    r.MessageID,
		Status:       TransactionStatus(r.Status),
		Kind:         TransactionKind(r.Kind),
		Timestamp:    parseTime(r.Timestamp),
		ErrorMessage: r.ErrorMessage.String,
		RetryCount:   r.RetryCount,
	}
}

func (r bulkJobRow) toBulkJob() (BulkJob, error) {
	var recips []string
	if err := json.Unmarshal([]byte(r.Recipients), &recips); err != nil {
		return BulkJob{}, fmt.Errorf("bulk job %s: decoding recipients: %w", r.ID, err)
	}
	j := BulkJob{
		ID:         r.ID,
		Recipients: recips,
		Body:       r.Body,
		Interval:   time.Duration(r.IntervalMS) * time.Millisecond,
		IntervalMS: r.IntervalMS,
		Status:     BulkJobStatus(r.Status),
		CreatedAt:  parseTime(r.CreatedAt),
	}
	if r.CompletedAt.Valid {
		t := parseTime(r.CompletedAt.String)
		j.CompletedAt = &t
	}
	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
