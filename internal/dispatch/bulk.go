package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wagate/internal/eventbus"
	"wagate/internal/ledger"
	"wagate/pkg/logx"
)

// SendBulk validates the whole batch, records a job row, and hands the
// paced loop to a background goroutine. It returns the job id as soon as
// the row is written; progress is only observable through bulk_progress
// events and the ledger.
func (e *Engine) SendBulk(ctx context.Context, recipients []string, body string, interval time.Duration) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	if len(recipients) == 0 {
		return "", ErrNoRecipients
	}
	if interval < 0 {
		return "", fmt.Errorf("interval must not be negative")
	}

	// Fail closed: one bad number rejects the batch before anything is sent.
	var bad []string
	for _, r := range recipients {
		if err := ValidateRecipient(r); err != nil {
			bad = append(bad, strings.TrimSpace(r))
		}
	}
	if len(bad) > 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidRecipient, strings.Join(bad, ", "))
	}

	job := ledger.BulkJob{
		ID:         ledger.NewID(),
		Recipients: append([]string(nil), recipients...),
		Body:       body,
		Interval:   interval,
		IntervalMS: interval.Milliseconds(),
		Status:     ledger.BulkPending,
		CreatedAt:  time.Now(),
	}
	if err := e.store.CreateBulkJob(ctx, job); err != nil {
		return "", fmt.Errorf("creating bulk job: %w", err)
	}

	e.sup.Go0("dispatch.bulk", func(ctx context.Context) {
		e.runBulk(ctx, job)
	})
	return job.ID, nil
}

func (e *Engine) runBulk(ctx context.Context, job ledger.BulkJob) {
	log := e.log.With(logx.String("job_id", job.ID), logx.Int("total", len(job.Recipients)))
	log.Info("bulk job started")

	if err := e.store.SetBulkJobStatus(ctx, job.ID, ledger.BulkProcessing, nil); err != nil {
		log.Error("marking job processing", logx.Err(err))
	}

	total := len(job.Recipients)
	for i, recipient := range job.Recipients {
		res, err := e.send(ctx, recipient, job.Body, ledger.KindBulk)
		success := err == nil && res.Success
		if err != nil {
			log.Warn("bulk item rejected", logx.String("recipient", recipient), logx.Err(err))
		}
		e.bus.Publish(eventbus.BulkProgress(job.ID, i+1, total, strings.TrimSpace(recipient), success))

		if i < total-1 {
			select {
			case <-ctx.Done():
				log.Warn("bulk job abandoned on shutdown", logx.Int("sent", i+1))
				return
			case <-time.After(job.Interval):
			}
		}
	}

	// Completion tracks the loop finishing, not per-item success.
	now := time.Now()
	if err := e.store.SetBulkJobStatus(ctx, job.ID, ledger.BulkCompleted, &now); err != nil {
		log.Error("marking job completed", logx.Err(err))
	}
	log.Info("bulk job completed")
}
