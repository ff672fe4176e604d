package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"

	"dialectic.app/engine/common/llm"
	"dialectic.app/engine/common/logger"
	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/planner"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	txRunner  TxRunner
	stores    StoreProvider
	processor JobProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, txRunner TxRunner, stores StoreProvider, processor JobProcessor, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		txRunner:  txRunner,
		stores:    stores,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"job_id", msg.JobID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage claims the job row the message points at and dispatches it.
// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	// Link back to the trace that enqueued the task, when one was recorded.
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(msg.JobID),
		SessionID: logger.Ptr(msg.SessionID),
		StageSlug: logger.Ptr(msg.StageSlug),
		MessageID: logger.Ptr(msg.ID),
		Component: "engine.worker",
	})

	slog.InfoContext(ctx, "processing message",
		"task_type", msg.TaskType,
		"attempt", msg.Attempt)

	// Claim in a transaction so competing workers lose cleanly.
	var job *model.Job
	txErr := w.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		claimed, err := stores.Jobs().ClaimPending(ctx, msg.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Already claimed, waiting, or terminal - expected under
				// redelivery, just ACK and move on.
				slog.InfoContext(ctx, "job not claimable, skipping")
				return nil
			}
			return fmt.Errorf("claiming job: %w", err)
		}
		job = claimed
		return nil
	})
	if txErr != nil {
		// Claim failed at the infrastructure level - don't ACK, let Redis redeliver.
		sc.RecordError(txErr)
		return fmt.Errorf("claim transaction failed: %w", txErr)
	}

	if job == nil {
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ACK skipped message", "error", err)
		}
		return nil
	}

	if processErr := w.processor.Process(ctx, job); processErr != nil {
		sc.RecordError(processErr)
		if err := w.recordFailure(ctx, job, processErr); err != nil {
			slog.ErrorContext(ctx, "failed to record job failure", "error", err)
		}
		return processErr
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}

	return nil
}

// recordFailure reflects a processing error onto the job row: permanent
// configuration or integrity failures go straight to failed, everything else
// consumes a retry attempt.
func (w *Worker) recordFailure(ctx context.Context, job *model.Job, processErr error) error {
	if IsPermanent(ctx, processErr) {
		slog.ErrorContext(ctx, "permanent job failure",
			"job_id", job.ID,
			"error", processErr)
		return w.stores.Jobs().MarkFailed(ctx, job.ID, processErr.Error())
	}

	status, err := w.stores.Jobs().ScheduleRetry(ctx, job.ID, processErr.Error())
	if err != nil {
		return err
	}
	slog.WarnContext(ctx, "job scheduled for retry",
		"job_id", job.ID,
		"status", status,
		"error", processErr)
	return nil
}

// IsPermanent reports whether the error can never succeed on retry.
// Configuration and integrity failures are permanent by definition; model
// API rejections are permanent unless the status code says otherwise.
func IsPermanent(ctx context.Context, err error) bool {
	var cfgErr *planner.ConfigError
	var integrityErr *planner.IntegrityError
	if errors.As(err, &cfgErr) || errors.As(err, &integrityErr) {
		return true
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return !llm.IsRetryable(ctx, err)
	}
	return false
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if IsPermanent(ctx, err) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "sending message to DLQ",
			"message_id", msg.ID,
			"job_id", msg.JobID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"job_id", msg.JobID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
