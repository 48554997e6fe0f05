package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wagate/internal/ledger"
	"wagate/pkg/logx"
)

// SendResult is what a caller learns about one send attempt. Error is the
// transport failure text when Success is false.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send delivers one message. Validation and gate failures return an error
// with no ledger write; once the transport is invoked, the attempt is
// recorded as a message plus transaction pair whatever the outcome.
func (e *Engine) Send(ctx context.Context, recipient, body string) (SendResult, error) {
	return e.send(ctx, recipient, body, ledger.KindSingle)
}

func (e *Engine) send(ctx context.Context, recipient, body string, kind ledger.TransactionKind) (SendResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return SendResult{}, ErrEmptyBody
	}
	if err := ValidateRecipient(recipient); err != nil {
		return SendResult{}, err
	}
	if !e.sender.Sendable() {
		return SendResult{}, ErrNotSendable
	}
	if err := e.waitTurn(ctx); err != nil {
		return SendResult{}, err
	}

	addr := normalizeRecipient(recipient)
	sendErr := e.sender.Send(ctx, addr, body)

	now := time.Now()
	msg := ledger.Message{
		ID:        ledger.NewID(),
		Sender:    "me",
		Recipient: strings.TrimSpace(recipient),
		Content:   body,
		Timestamp: now,
		Status:    ledger.MessageSent,
	}
	tx := ledger.Transaction{
		ID:        ledger.NewID(),
		MessageID: msg.ID,
		Status:    ledger.TransactionSent,
		Kind:      kind,
		Timestamp: now,
	}
	if sendErr != nil {
		msg.Status = ledger.MessageFailed
		tx.Status = ledger.TransactionFailed
		tx.ErrorMessage = sendErr.Error()
	}

	if err := e.store.RecordAttempt(ctx, msg, tx); err != nil {
		if sendErr != nil {
			// The send already failed; the bookkeeping failure must not
			// replace that as the reported cause.
			e.log.Error("recording failed send", logx.String("recipient", msg.Recipient), logx.Err(err))
			return SendResult{Success: false, MessageID: msg.ID, Error: sendErr.Error()}, nil
		}
		return SendResult{}, fmt.Errorf("recording send: %w", err)
	}

	if sendErr != nil {
		e.log.Warn("send failed", logx.String("recipient", msg.Recipient), logx.Err(sendErr))
		return SendResult{Success: false, MessageID: msg.ID, Error: sendErr.Error()}, nil
	}
	e.log.Debug("message sent", logx.String("recipient", msg.Recipient))
	return SendResult{Success: true, MessageID: msg.ID}, nil
}
