package planner_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dialectic.app/engine/internal/model"
	"dialectic.app/engine/internal/planner"
)

var _ = Describe("SelectAnchor", func() {
	var step *model.RecipeStep

	BeforeEach(func() {
		step = &model.RecipeStep{
			ID:        301,
			StageSlug: "antithesis",
			StepKey:   "critique_business_case",
			JobType:   model.JobTypeExecute,
			InputsRequired: []model.InputRule{
				{Type: model.InputTypeDocument, Slug: "thesis", DocumentKey: "business_case", Required: true},
				{Type: model.InputTypeSeedPrompt, Slug: "thesis", DocumentKey: "seed_prompt", Required: true},
			},
			InputsRelevance: []model.RelevanceRule{
				{DocumentKey: "business_case", Slug: "thesis", Relevance: 1.0},
			},
		}
	})

	Context("step with no document or feedback inputs", func() {
		It("requires no anchor", func() {
			step.InputsRequired = []model.InputRule{
				{Type: model.InputTypeSeedPrompt, Slug: "thesis", DocumentKey: "seed_prompt"},
			}

			result, err := planner.SelectAnchor(step, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(planner.AnchorStatusNoAnchorRequired))
			Expect(result.Document).To(BeNil())
		})
	})

	Context("step consuming a same-stage header context without document inputs", func() {
		It("defers anchoring to the header context", func() {
			step.InputsRequired = []model.InputRule{
				{Type: model.InputTypeHeaderContext, Slug: "antithesis", DocumentKey: "header_context"},
			}

			result, err := planner.SelectAnchor(step, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(planner.AnchorStatusDeriveFromHeaderContext))
		})
	})

	Context("document inputs without relevance metadata", func() {
		It("fails fast naming the document key", func() {
			step.InputsRelevance = nil

			_, err := planner.SelectAnchor(step, []model.SourceDocument{
				sourceDoc(1, "business_case", "thesis"),
			})

			var cfgErr *planner.ConfigError
			Expect(err).To(HaveOccurred())
			Expect(err).To(BeAssignableToTypeOf(cfgErr))
			Expect(err.Error()).To(ContainSubstring("business_case"))
			Expect(err.Error()).To(ContainSubstring("critique_business_case"))
		})
	})

	Context("relevance scoring", func() {
		BeforeEach(func() {
			step.InputsRequired = []model.InputRule{
				{Type: model.InputTypeDocument, Slug: "thesis", DocumentKey: "business_case"},
				{Type: model.InputTypeFeedback, Slug: "thesis", DocumentKey: "user_feedback"},
			}
			step.InputsRelevance = []model.RelevanceRule{
				{DocumentKey: "user_feedback", Slug: "thesis", Relevance: 0.5},
				{DocumentKey: "business_case", Slug: "thesis", Relevance: 1.0},
			}
		})

		It("picks the higher-relevance document regardless of order", func() {
			docs := []model.SourceDocument{
				sourceDoc(10, "user_feedback", "thesis"),
				sourceDoc(11, "business_case", "thesis"),
			}

			result, err := planner.SelectAnchor(step, docs)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(planner.AnchorStatusAnchor))
			Expect(result.Document).NotTo(BeNil())
			Expect(result.Document.ID).To(Equal(int64(11)))
		})

		It("is deterministic across repeated calls", func() {
			docs := []model.SourceDocument{
				sourceDoc(10, "user_feedback", "thesis"),
				sourceDoc(11, "business_case", "thesis"),
				sourceDoc(12, "business_case", "thesis"),
			}

			first, err := planner.SelectAnchor(step, docs)
			Expect(err).NotTo(HaveOccurred())

			for range 10 {
				again, err := planner.SelectAnchor(step, docs)
				Expect(err).NotTo(HaveOccurred())
				Expect(again.Document.ID).To(Equal(first.Document.ID))
			}
		})

		It("breaks relevance ties by rule declaration order", func() {
			step.InputsRelevance = []model.RelevanceRule{
				{DocumentKey: "user_feedback", Slug: "thesis", Relevance: 0.8},
				{DocumentKey: "business_case", Slug: "thesis", Relevance: 0.8},
			}
			docs := []model.SourceDocument{
				sourceDoc(11, "business_case", "thesis"),
				sourceDoc(10, "user_feedback", "thesis"),
			}

			result, err := planner.SelectAnchor(step, docs)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Document.ID).To(Equal(int64(10)))
		})

		It("returns a nil anchor when no document matches the rules", func() {
			docs := []model.SourceDocument{
				sourceDoc(20, "unrelated_key", "thesis"),
			}

			result, err := planner.SelectAnchor(step, docs)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(planner.AnchorStatusAnchor))
			Expect(result.Document).To(BeNil())
		})
	})

	Context("seed prompts among the sources", func() {
		It("anchors the document and never the seed prompt", func() {
			seed := sourceDoc(1, "seed_prompt", "thesis")
			seed.ContributionType = "seed_prompt"
			seed.FileName = nil

			document := sourceDoc(2, "business_case", "thesis")
			document.FileName = strPtr("gpt-4-turbo_0_business_case.md")

			result, err := planner.SelectAnchor(step, []model.SourceDocument{seed, document})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(planner.AnchorStatusAnchor))
			Expect(result.Document.ID).To(Equal(int64(2)))
			Expect(planner.ModelSlugFromFileName(*result.Document.FileName)).To(Equal("gpt-4-turbo"))
		})
	})
})
