package blocker_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dialectic.app/engine/internal/blocker"
	"dialectic.app/engine/internal/model"
)

var _ = Describe("ResolveNext", func() {
	var (
		ctx    context.Context
		deps   blocker.Deps
		params blocker.Params

		jobsByType map[model.JobType][]model.Job
		steps      map[int64]*model.RecipeStep
		listCalls  []model.JobType
	)

	BeforeEach(func() {
		ctx = context.Background()
		jobsByType = map[model.JobType][]model.Job{}
		steps = map[int64]*model.RecipeStep{}
		listCalls = nil

		deps = blocker.Deps{
			ListJobs: func(_ context.Context, scope blocker.JobScope) ([]model.Job, error) {
				listCalls = append(listCalls, scope.JobType)
				return jobsByType[scope.JobType], nil
			},
			GetRecipeStep: func(_ context.Context, stepID int64) (*model.RecipeStep, error) {
				step, ok := steps[stepID]
				if !ok {
					return nil, fmt.Errorf("step %d: not found", stepID)
				}
				return step, nil
			},
		}

		params = blocker.Params{
			ProjectID:       700,
			SessionID:       800,
			StageSlug:       "synthesis",
			IterationNumber: 1,
			ModelID:         42,
			DocumentKey:     "pairwise_synthesis_chunk",
		}
	})

	Context("incomplete identity", func() {
		It("returns no blocker without querying", func() {
			params.DocumentKey = ""

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
			Expect(listCalls).To(BeEmpty())
		})

		It("treats a missing model id as unmatchable", func() {
			params.ModelID = 0

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})
	})

	Context("render candidates", func() {
		It("matches a render job producing the document key", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 42, "pairwise_synthesis_chunk", model.JobStatusProcessing),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(result.JobID).To(Equal(int64(1)))
			Expect(result.JobType).To(Equal(model.JobTypeRender))
			Expect(result.Status).To(Equal(model.JobStatusProcessing))
		})

		It("never matches a job targeting a different model, even with no other candidates", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 43, "pairwise_synthesis_chunk", model.JobStatusProcessing),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("skips jobs whose payload exposes no model identity", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 0, "pairwise_synthesis_chunk", model.JobStatusProcessing),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("filters by project id from the payload", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 999, 42, "pairwise_synthesis_chunk", model.JobStatusProcessing),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})
	})

	Context("execute candidates", func() {
		It("matches on output_type", func() {
			jobsByType[model.JobTypeExecute] = []model.Job{
				executeJob(2, 700, 42, "pairwise_synthesis_chunk", "", model.JobStatusPending),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(result.JobID).To(Equal(int64(2)))
		})

		It("falls back to canonicalPathParams.contributionType", func() {
			jobsByType[model.JobTypeExecute] = []model.Job{
				executeJob(2, 700, 42, "something_else", "pairwise_synthesis_chunk", model.JobStatusRetrying),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(result.JobID).To(Equal(int64(2)))
		})

		It("proves the model via the path params anchor when model_id is absent", func() {
			job := executeJob(2, 700, 0, "pairwise_synthesis_chunk", "", model.JobStatusPending)
			payload := job.DecodedPayload.(*model.ExecutePayload)
			anchorModel := int64(42)
			payload.CanonicalPathParams.SourceAnchorModelID = &anchorModel
			jobsByType[model.JobTypeExecute] = []model.Job{job}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
		})
	})

	Context("plan candidates", func() {
		It("matches a skeleton plan via its recipe step's output type", func() {
			steps[501] = &model.RecipeStep{ID: 501, OutputType: "pairwise_synthesis_chunk"}
			jobsByType[model.JobTypePlan] = []model.Job{
				planJob(3, 700, 42, i64Ptr(501), model.JobStatusWaitingForPrerequisite),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(result.JobID).To(Equal(int64(3)))
			Expect(result.JobType).To(Equal(model.JobTypePlan))
		})

		It("ignores plan jobs without planner metadata", func() {
			jobsByType[model.JobTypePlan] = []model.Job{
				planJob(3, 700, 42, nil, model.JobStatusPending),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("propagates recipe step lookup failures", func() {
			jobsByType[model.JobTypePlan] = []model.Job{
				planJob(3, 700, 42, i64Ptr(999), model.JobStatusPending),
			}

			_, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("999"))
		})
	})

	Context("priority", func() {
		It("prefers render over execute over plan for the same document key", func() {
			steps[501] = &model.RecipeStep{ID: 501, OutputType: "pairwise_synthesis_chunk"}
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 42, "pairwise_synthesis_chunk", model.JobStatusPending),
			}
			jobsByType[model.JobTypeExecute] = []model.Job{
				executeJob(2, 700, 42, "pairwise_synthesis_chunk", "", model.JobStatusProcessing),
			}
			jobsByType[model.JobTypePlan] = []model.Job{
				planJob(3, 700, 42, i64Ptr(501), model.JobStatusPending),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.JobID).To(Equal(int64(1)))
			Expect(listCalls).To(Equal([]model.JobType{model.JobTypeRender}))
		})

		It("falls through to execute when render candidates miss", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 42, "other_key", model.JobStatusPending),
			}
			jobsByType[model.JobTypeExecute] = []model.Job{
				executeJob(2, 700, 42, "pairwise_synthesis_chunk", "", model.JobStatusProcessing),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.JobID).To(Equal(int64(2)))
			Expect(result.JobType).To(Equal(model.JobTypeExecute))
		})
	})

	Context("terminal candidates", func() {
		It("never matches completed or failed jobs", func() {
			jobsByType[model.JobTypeRender] = []model.Job{
				renderJob(1, 700, 42, "pairwise_synthesis_chunk", model.JobStatusCompleted),
				renderJob(2, 700, 42, "pairwise_synthesis_chunk", model.JobStatusFailed),
			}

			result, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})
	})

	Context("query failure", func() {
		It("propagates infrastructure errors", func() {
			deps.ListJobs = func(context.Context, blocker.JobScope) ([]model.Job, error) {
				return nil, errors.New("connection refused")
			}

			_, err := blocker.ResolveNext(ctx, deps, params)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("connection refused"))
		})
	})
})

func renderJob(id, projectID, modelID int64, documentKey string, status model.JobStatus) model.Job {
	return model.Job{
		ID:      id,
		JobType: model.JobTypeRender,
		Status:  status,
		DecodedPayload: &model.RenderPayload{
			JobType:     model.JobTypeRender,
			ProjectID:   projectID,
			SessionID:   800,
			StageSlug:   "synthesis",
			ModelID:     modelID,
			DocumentKey: documentKey,
		},
	}
}

func executeJob(id, projectID, modelID int64, outputType, contributionType string, status model.JobStatus) model.Job {
	return model.Job{
		ID:      id,
		JobType: model.JobTypeExecute,
		Status:  status,
		DecodedPayload: &model.ExecutePayload{
			JobType:    model.JobTypeExecute,
			ProjectID:  projectID,
			SessionID:  800,
			StageSlug:  "synthesis",
			ModelID:    modelID,
			OutputType: outputType,
			CanonicalPathParams: model.CanonicalPathParams{
				ContributionType: contributionType,
				StageSlug:        "synthesis",
			},
		},
	}
}

func planJob(id, projectID, modelID int64, recipeStepID *int64, status model.JobStatus) model.Job {
	payload := &model.PlanPayload{
		JobType:   model.JobTypePlan,
		ProjectID: projectID,
		SessionID: 800,
		StageSlug: "synthesis",
		ModelID:   modelID,
	}
	if recipeStepID != nil {
		payload.PlannerMetadata = &model.PlannerMetadata{RecipeStepID: *recipeStepID}
	}
	return model.Job{
		ID:             id,
		JobType:        model.JobTypePlan,
		Status:         status,
		DecodedPayload: payload,
	}
}

func i64Ptr(v int64) *int64 { return &v }
