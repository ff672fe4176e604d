// Package executor runs EXECUTE jobs: it composes a generation prompt from
// the job's input documents and calls the model through the structured
// output client.
package executor

import (
	"context"
	"fmt"
	"strings"

	"dialectic.app/engine/common/llm"
	"dialectic.app/engine/internal/model"
)

// Request carries everything a generation call needs. Documents arrive in
// input order; the prompt preserves that order. PromptType selects which
// configured client handles the call.
type Request struct {
	StageSlug  string
	StepKey    string
	OutputType string
	PromptType model.PromptType
	Documents  []model.SourceDocument
}

type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// generationPayload is the strict response schema for contribution content.
type generationPayload struct {
	Content string `json:"content" jsonschema_description:"The full generated document in markdown"`
}

// ClientConfig pairs a model client with its generation token ceiling.
type ClientConfig struct {
	Client    llm.Client
	MaxTokens int
}

type Executor struct {
	turn    ClientConfig
	planner ClientConfig
}

// New builds an executor that routes by prompt class: planner steps use the
// planner client, everything else the turn client. A planner config without
// a client falls back to the turn client.
func New(turn, planner ClientConfig) *Executor {
	if planner.Client == nil {
		planner = turn
	}
	return &Executor{turn: turn, planner: planner}
}

func (e *Executor) Generate(ctx context.Context, req Request) (*Result, error) {
	cc := e.turn
	if req.PromptType == model.PromptTypePlanner {
		cc = e.planner
	}

	var payload generationPayload
	resp, err := cc.Client.Chat(ctx, llm.Request{
		SystemPrompt: systemPrompt(req),
		UserPrompt:   userPrompt(req),
		SchemaName:   "generation_result",
		Schema:       llm.GenerateSchema[generationPayload](),
		MaxTokens:    cc.MaxTokens,
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("generating %s for step %q: %w", req.OutputType, req.StepKey, err)
	}
	if payload.Content == "" {
		return nil, fmt.Errorf("step %q: model returned empty content", req.StepKey)
	}

	return &Result{
		Content:          payload.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}

func systemPrompt(req Request) string {
	return fmt.Sprintf(
		"You are one voice in a multi-model dialectic pipeline, currently in the %s stage. "+
			"Produce a %s document. Respond with the complete document content only.",
		req.StageSlug, req.OutputType)
}

func userPrompt(req Request) string {
	if len(req.Documents) == 0 {
		return fmt.Sprintf("Produce the %s document for step %s.", req.OutputType, req.StepKey)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source documents (%d):\n\n", len(req.Documents))
	for i, doc := range req.Documents {
		fmt.Fprintf(&b, "--- document %d (%s, stage %s) ---\n%s\n\n", i+1, doc.ContributionType, doc.Stage, doc.Content)
	}
	fmt.Fprintf(&b, "Using the source documents above, produce the %s document.", req.OutputType)
	return b.String()
}
