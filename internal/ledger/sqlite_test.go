package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "ledger.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sentPair(recipient, content string) (Message, Transaction) {
	m := Message{
		ID:        NewID(),
		Sender:    "me",
		Recipient: recipient,
		Content:   content,
		Timestamp: time.Now(),
		Status:    MessageSent,
	}
	tx := Transaction{
		ID:        NewID(),
		MessageID: m.ID,
		Status:    TransactionSent,
		Kind:      KindSingle,
		Timestamp: m.Timestamp,
	}
	return m, tx
}

func TestRecordAttemptPair(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m, tx := sentPair("+15551234567", "hi")
	require.NoError(t, st.RecordAttempt(ctx, m, tx))

	gotM, err := st.MessageByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", gotM.Recipient)
	assert.Equal(t, MessageSent, gotM.Status)

	gotT, err := st.TransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, gotT.MessageID)
	assert.Equal(t, TransactionSent, gotT.Status)
	assert.Zero(t, gotT.RetryCount)
}

func TestRecordAttemptRejectsMismatchedPair(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	m, tx := sentPair("+15551234567", "hi")
	tx.MessageID = NewID()
	require.Error(t, st.RecordAttempt(context.Background(), m, tx))

	_, err := st.MessageByID(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailedAttemptRecorded(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m, tx := sentPair("+15551234567", "hi")
	m.Status = MessageFailed
	tx.Status = TransactionFailed
	tx.ErrorMessage = "ECONNRESET"
	require.NoError(t, st.RecordAttempt(ctx, m, tx))

	failed, err := st.FailedTransactions(ctx, 50)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "ECONNRESET", failed[0].ErrorMessage)
	assert.Equal(t, "hi", failed[0].Content)
	assert.Equal(t, "+15551234567", failed[0].Recipient)
	assert.Zero(t, failed[0].RetryCount)
}

func TestRecentMessagesNewestFirst(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m, tx := sentPair("+15551234567", "msg")
		m.Timestamp = base.Add(time.Duration(i) * time.Minute)
		tx.Timestamp = m.Timestamp
		require.NoError(t, st.RecordAttempt(ctx, m, tx))
	}

	msgs, err := st.RecentMessages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Timestamp.After(msgs[1].Timestamp))
	assert.True(t, msgs[1].Timestamp.After(msgs[2].Timestamp))
}

func TestRetryMutations(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m, tx := sentPair("+15551234567", "hi")
	m.Status = MessageFailed
	tx.Status = TransactionFailed
	tx.ErrorMessage = "timed out"
	require.NoError(t, st.RecordAttempt(ctx, m, tx))

	require.NoError(t, st.IncrementRetry(ctx, tx.ID))
	got, err := st.TransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, TransactionFailed, got.Status)

	require.NoError(t, st.ResolveRetry(ctx, tx.ID, TransactionSent, ""))
	got, err = st.TransactionByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TransactionSent, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRetryUnknownTransaction(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	assert.ErrorIs(t, st.IncrementRetry(context.Background(), "nope"), ErrNotFound)
}

func TestBulkJobLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := BulkJob{
		ID:         NewID(),
		Recipients: []string{"+15551234567", "+441234567890"},
		Body:       "hello all",
		Interval:   1500 * time.Millisecond,
		Status:     BulkPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, st.CreateBulkJob(ctx, j))

	got, err := st.BulkJobByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Recipients, got.Recipients)
	assert.Equal(t, int64(1500), got.IntervalMS)
	assert.Equal(t, BulkPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, st.SetBulkJobStatus(ctx, j.ID, BulkProcessing, nil))
	done := time.Now()
	require.NoError(t, st.SetBulkJobStatus(ctx, j.ID, BulkCompleted, &done))

	got, err = st.BulkJobByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, BulkCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestSaveIncomingMessage(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	m := Message{
		ID:        NewID(),
		Sender:    "+15557654321",
		Recipient: "me",
		Content:   "hey",
		Timestamp: time.Now(),
		Status:    MessageReceived,
	}
	require.NoError(t, st.SaveMessage(ctx, m))

	msgs, err := st.RecentMessages(ctx, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageReceived, msgs[0].Status)
	assert.Equal(t, "me", msgs[0].Recipient)
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	old, oldTx := sentPair("+15551234567", "old")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	oldTx.Timestamp = old.Timestamp
	require.NoError(t, st.RecordAttempt(ctx, old, oldTx))

	fresh, freshTx := sentPair("+15551234567", "fresh")
	require.NoError(t, st.RecordAttempt(ctx, fresh, freshTx))

	n, err := st.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.MessageByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.MessageByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
