package worker_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openai/openai-go"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/planner"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/store"
	"dialectic.app/engine/internal/worker"
)

// apiError builds the error shape the model client surfaces for an HTTP
// status, with the request and response attached the way the SDK leaves them.
func apiError(status int) error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	return &openai.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Request: req},
	}
}

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *mockConsumer
		stores    *mockStores
		txRunner  *mockTxRunner
		processor *mockJobProcessor
		w         *worker.Worker
		msg       queue.Message
	)

	claimedJob := func(jobType model.JobType) *model.Job {
		return &model.Job{
			ID:              501,
			SessionID:       42,
			StageSlug:       "thesis",
			IterationNumber: 1,
			JobType:         jobType,
			Status:          model.JobStatusProcessing,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		stores = newMockStores()
		txRunner = &mockTxRunner{stores: stores}
		processor = &mockJobProcessor{}
		w = worker.New(consumer, txRunner, stores, processor, worker.Config{MaxAttempts: 3})
		msg = queue.Message{
			ID:              "1700000000000-0",
			TaskType:        queue.TaskTypePlan,
			JobID:           501,
			SessionID:       42,
			StageSlug:       "thesis",
			IterationNumber: 1,
			Attempt:         1,
		}
	})

	Describe("ProcessMessage", func() {
		It("claims the job, dispatches it, and acknowledges the message", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				Expect(id).To(Equal(int64(501)))
				return claimedJob(model.JobTypePlan), nil
			}

			Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
			Expect(processor.processed).To(Equal([]int64{501}))
			Expect(consumer.ackedIDs()).To(Equal([]string{"1700000000000-0"}))
		})

		It("acknowledges and skips a message whose job is not claimable", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return nil, store.ErrNotFound
			}

			Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
			Expect(processor.processed).To(BeEmpty())
			Expect(consumer.ackedIDs()).To(Equal([]string{"1700000000000-0"}))
		})

		It("leaves the message unacknowledged when the claim fails at the database", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return nil, errors.New("connection reset")
			}

			err := w.ProcessMessage(ctx, msg)
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(consumer.ackedIDs()).To(BeEmpty())
		})

		It("marks the job failed on a permanent processing error", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypePlan), nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return fmt.Errorf("planning: %w", &planner.ConfigError{StepKey: "thesis_base", Reason: "missing output_type"})
			}

			var failedID int64
			stores.jobs.MarkFailedFunc = func(ctx context.Context, id int64, errorDetails string) error {
				failedID = id
				Expect(errorDetails).To(ContainSubstring("missing output_type"))
				return nil
			}
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				Fail("permanent errors must not consume a retry attempt")
				return "", nil
			}

			err := w.ProcessMessage(ctx, msg)
			Expect(err).To(HaveOccurred())
			Expect(failedID).To(Equal(int64(501)))
			Expect(consumer.ackedIDs()).To(BeEmpty())
		})

		It("marks the job failed when the model rejects the request outright", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return fmt.Errorf("generating chunk: %w", apiError(http.StatusBadRequest))
			}

			var failedID int64
			stores.jobs.MarkFailedFunc = func(ctx context.Context, id int64, errorDetails string) error {
				failedID = id
				return nil
			}
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				Fail("a rejected request must not consume a retry attempt")
				return "", nil
			}

			err := w.ProcessMessage(ctx, msg)
			Expect(err).To(HaveOccurred())
			Expect(failedID).To(Equal(int64(501)))
		})

		It("schedules a retry when the model is rate limited", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return fmt.Errorf("generating chunk: %w", apiError(http.StatusTooManyRequests))
			}

			var retriedID int64
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				retriedID = id
				return model.JobStatusRetrying, nil
			}
			stores.jobs.MarkFailedFunc = func(ctx context.Context, id int64, errorDetails string) error {
				Fail("rate limiting must not mark the job failed")
				return nil
			}

			err := w.ProcessMessage(ctx, msg)
			Expect(err).To(HaveOccurred())
			Expect(retriedID).To(Equal(int64(501)))
		})

		It("schedules a retry on a transient processing error", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return errors.New("model endpoint timed out")
			}

			var retriedID int64
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				retriedID = id
				return model.JobStatusRetrying, nil
			}
			stores.jobs.MarkFailedFunc = func(ctx context.Context, id int64, errorDetails string) error {
				Fail("transient errors must not mark the job failed")
				return nil
			}

			err := w.ProcessMessage(ctx, msg)
			Expect(err).To(MatchError(ContainSubstring("timed out")))
			Expect(retriedID).To(Equal(int64(501)))
		})
	})

	Describe("Run", func() {
		// Drives one batch through the loop and stops; failure routing
		// between requeue and the DLQ happens here, not in ProcessMessage.
		runOneBatch := func(m queue.Message) {
			delivered := false
			consumer.ReadFunc = func(ctx context.Context) ([]queue.Message, error) {
				if delivered {
					return nil, nil
				}
				delivered = true
				return []queue.Message{m}, nil
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = w.Run(ctx)
			}()
			DeferCleanup(func() {
				w.Stop()
				<-done
			})
		}

		It("requeues a transiently failed message that has attempts left", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				return model.JobStatusRetrying, nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return errors.New("model endpoint timed out")
			}

			runOneBatch(msg)

			Eventually(consumer.requeuedIDs).Should(Equal([]string{"1700000000000-0"}))
			Expect(consumer.dlqdIDs()).To(BeEmpty())
		})

		It("dead-letters a message that exhausted its attempts", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				return model.JobStatusFailed, nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return errors.New("model endpoint timed out")
			}

			exhausted := msg
			exhausted.Attempt = 3
			runOneBatch(exhausted)

			Eventually(consumer.dlqdIDs).Should(Equal([]string{"1700000000000-0"}))
			Expect(consumer.requeuedIDs()).To(BeEmpty())
		})

		It("dead-letters a permanently failed message regardless of attempts", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypePlan), nil
			}
			stores.jobs.MarkFailedFunc = func(ctx context.Context, id int64, errorDetails string) error {
				return nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				return &planner.IntegrityError{StepKey: "thesis_base", Reason: "source group 9 has no anchor document among the resolved sources"}
			}

			runOneBatch(msg)

			Eventually(consumer.dlqdIDs).Should(Equal([]string{"1700000000000-0"}))
			Expect(consumer.requeuedIDs()).To(BeEmpty())
		})

		It("recovers from a panicking processor and routes the message to retry handling", func() {
			stores.jobs.ClaimPendingFunc = func(ctx context.Context, id int64) (*model.Job, error) {
				return claimedJob(model.JobTypeExecute), nil
			}
			stores.jobs.ScheduleRetryFunc = func(ctx context.Context, id int64, errorDetails string) (model.JobStatus, error) {
				return model.JobStatusRetrying, nil
			}
			processor.ProcessFunc = func(ctx context.Context, job *model.Job) error {
				panic("nil pointer in prompt assembly")
			}

			runOneBatch(msg)

			Eventually(consumer.requeuedIDs).Should(Equal([]string{"1700000000000-0"}))
		})
	})

	Describe("IsPermanent", func() {
		It("treats configuration and integrity errors as permanent, wrapped or not", func() {
			Expect(worker.IsPermanent(ctx, &planner.ConfigError{Reason: "missing prompt_template_id"})).To(BeTrue())
			Expect(worker.IsPermanent(ctx, fmt.Errorf("outer: %w", &planner.IntegrityError{Reason: "orphan group"}))).To(BeTrue())
			Expect(worker.IsPermanent(ctx, errors.New("dial tcp: i/o timeout"))).To(BeFalse())
		})

		It("classifies model API errors by status code", func() {
			Expect(worker.IsPermanent(ctx, apiError(http.StatusBadRequest))).To(BeTrue())
			Expect(worker.IsPermanent(ctx, apiError(http.StatusUnauthorized))).To(BeTrue())
			Expect(worker.IsPermanent(ctx, apiError(http.StatusTooManyRequests))).To(BeFalse())
			Expect(worker.IsPermanent(ctx, apiError(http.StatusInternalServerError))).To(BeFalse())
		})
	})
})
