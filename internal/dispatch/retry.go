package dispatch

import (
	"context"
	"fmt"

	"wagate/internal/ledger"
	"wagate/pkg/logx"
)

// Retry re-sends the message behind a failed transaction and rewrites the
// transaction outcome in place. retry_count is bumped before the resend, so
// unbounded manual retries each leave a trace even when they fail again.
func (e *Engine) Retry(ctx context.Context, transactionID string) error {
	tx, err := e.store.TransactionByID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("loading transaction: %w", err)
	}
	msg, err := e.store.MessageByID(ctx, tx.MessageID)
	if err != nil {
		return fmt.Errorf("loading message: %w", err)
	}

	if err := e.store.IncrementRetry(ctx, tx.ID); err != nil {
		return fmt.Errorf("incrementing retry count: %w", err)
	}

	sendErr := e.resend(ctx, msg)
	if sendErr != nil {
		if err := e.store.ResolveRetry(ctx, tx.ID, ledger.TransactionFailed, sendErr.Error()); err != nil {
			e.log.Error("recording retry failure", logx.String("transaction_id", tx.ID), logx.Err(err))
		}
		e.log.Warn("retry failed", logx.String("transaction_id", tx.ID), logx.Err(sendErr))
		return fmt.Errorf("resend failed: %w", sendErr)
	}

	if err := e.store.ResolveRetry(ctx, tx.ID, ledger.TransactionSent, ""); err != nil {
		return fmt.Errorf("recording retry success: %w", err)
	}
	e.log.Info("retry succeeded", logx.String("transaction_id", tx.ID), logx.String("recipient", msg.Recipient))
	return nil
}

func (e *Engine) resend(ctx context.Context, msg ledger.Message) error {
	if !e.sender.Sendable() {
		return ErrNotSendable
	}
	if err := e.waitTurn(ctx); err != nil {
		return err
	}
	return e.sender.Send(ctx, normalizeRecipient(msg.Recipient), msg.Content)
}
