package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("ledger: not found")

type MessageStatus string

const (
	MessageSent     MessageStatus = "sent"
	MessageFailed   MessageStatus = "failed"
	MessageReceived MessageStatus = "received"
)

type TransactionStatus string

const (
	TransactionSent   TransactionStatus = "sent"
	TransactionFailed TransactionStatus = "failed"
)

// TransactionKind records which send path produced the attempt.
type TransactionKind string

const (
	KindSingle TransactionKind = "single"
	KindBulk   TransactionKind = "bulk"
)

type BulkJobStatus string

const (
	BulkPending    BulkJobStatus = "pending"
	BulkProcessing BulkJobStatus = "processing"
	BulkCompleted  BulkJobStatus = "completed"
	BulkFailed     BulkJobStatus = "failed"
)

// Message is the immutable record of one unit of content crossing the
// boundary. Created at send attempt or inbound receipt; never mutated.
type Message struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	Recipient string        `json:"recipient"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// Transaction is the outcome record of one send attempt. RetryCount and a
// failed→sent status rewrite (after a successful retry) are the only
// permitted mutations.
type Transaction struct {
	ID           string            `json:"id"`
	MessageID    string            `json:"messageId"`
	Status       TransactionStatus `json:"status"`
	Kind         TransactionKind   `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	RetryCount   int               `json:"retryCount"`
}

// FailedTransaction is a Transaction joined with the content/recipient of its
// Message, for the retry UI.
type FailedTransaction struct {
	Transaction
	Content   string `json:"content"`
	Recipient string `json:"recipient"`
}

// BulkJob is fire-and-forget bookkeeping for one paced multi-recipient send.
// It does not reference the transactions it produces.
type BulkJob struct {
	ID          string        `json:"id"`
	Recipients  []string      `json:"recipients"`
	Body        string        `json:"message"`
	Interval    time.Duration `json:"-"`
	IntervalMS  int64         `json:"interval"`
	Status      BulkJobStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Store is the persistence API for messages, transactions and bulk jobs.
// It is the sole source of truth for delivery history and retry state.
type Store interface {
	// RecordAttempt writes a message and its transaction as one atomic pair.
	RecordAttempt(ctx context.Context, m Message, t Transaction) error
	// SaveMessage writes a lone message row (inbound receipts).
	SaveMessage(ctx context.Context, m Message) error

	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	FailedTransactions(ctx context.Context, limit int) ([]FailedTransaction, error)
	MessageByID(ctx context.Context, id string) (Message, error)
	TransactionByID(ctx context.Context, id string) (Transaction, error)

	// IncrementRetry bumps retry_count. It is committed before the resend
	// outcome is known, so every manual retry leaves a trace.
	IncrementRetry(ctx context.Context, id string) error
	// ResolveRetry rewrites the transaction outcome in place after a resend.
	ResolveRetry(ctx context.Context, id string, status TransactionStatus, errMsg string) error

	CreateBulkJob(ctx context.Context, j BulkJob) error
	SetBulkJobStatus(ctx context.Context, id string, status BulkJobStatus, completedAt *time.Time) error
	BulkJobByID(ctx context.Context, id string) (BulkJob, error)

	// PruneBefore deletes messages (and their transactions) older than cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// NewID returns a fresh row identifier.
func NewID() string { return uuid.NewString() }
