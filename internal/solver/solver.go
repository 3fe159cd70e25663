// Package solver generates step-by-step answers to mathematical
// questions. The baseline is a zero-shot prompt; when the learning
// loop has published an artifact, its demos are prepended as few-shot
// examples.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// systemInstructions fixes the answer format so downstream step
// extraction and output validation can rely on it.
const systemInstructions = `You are a careful mathematics tutor.
Solve the question with clear reasoning. Number every reasoning step on
its own line in the form "Step N: ...". Finish with a single line in
the form "Final Answer: ...". Answer only mathematical questions.`

// Config configures a Solver.
type Config struct {
	// Genkit is the initialized AI runtime. Required.
	Genkit *genkit.Genkit

	// ModelName is the fully qualified model, e.g.
	// "googleai/gemini-2.5-flash". Required.
	ModelName string

	// Temperature for generation.
	Temperature float64

	// Limiter throttles model calls. Nil gets a default of
	// 5 req/s with a burst of 10.
	Limiter *rate.Limiter

	// Slot supplies the published artifact. Nil means always
	// zero-shot.
	Slot *Slot

	// Logger for diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Answer is one generation outcome.
type Answer struct {
	// Text is the model output.
	Text string

	// UsedArtifact reports whether a published artifact's demos were
	// in the prompt.
	UsedArtifact bool
}

// Solver produces answers. Safe for concurrent use.
type Solver struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
	limiter     *rate.Limiter
	slot        *Slot
	logger      *slog.Logger
}

// New creates a Solver.
func New(cfg Config) (*Solver, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(5, 10)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		limiter:     limiter,
		slot:        cfg.Slot,
		logger:      logger,
	}, nil
}

// Generate answers a question using the published artifact when one
// exists. contextBlob carries retrieved documents or search snippets
// and may be empty.
func (s *Solver) Generate(ctx context.Context, question, contextBlob string) (Answer, error) {
	var demos []Demo
	usedArtifact := false
	if s.slot != nil {
		if art := s.slot.Load(); art != nil && len(art.Demos) > 0 {
			demos = art.Demos
			usedArtifact = true
		}
	}

	text, err := s.generate(ctx, BuildPrompt(question, contextBlob, demos))
	if err != nil && usedArtifact {
		// An artifact must never make answering worse than the
		// baseline. Retry zero-shot before giving up.
		s.logger.Warn("artifact-backed generation failed, retrying zero-shot", "error", err)
		text, err = s.generate(ctx, BuildPrompt(question, contextBlob, nil))
		usedArtifact = false
	}
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, UsedArtifact: usedArtifact}, nil
}

// GenerateWithDemos answers using an explicit demo set, bypassing the
// slot. The learning loop uses this to evaluate candidate artifacts
// before publication.
func (s *Solver) GenerateWithDemos(ctx context.Context, question, contextBlob string, demos []Demo) (string, error) {
	return s.generate(ctx, BuildPrompt(question, contextBlob, demos))
}

func (s *Solver) generate(ctx context.Context, prompt string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithSystem(systemInstructions),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{"temperature": s.temperature}),
	)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned an empty answer")
	}
	return text, nil
}

// BuildPrompt assembles the generation prompt: optional worked
// examples, optional reference context, then the question.
func BuildPrompt(question, contextBlob string, demos []Demo) string {
	var b strings.Builder

	if len(demos) > 0 {
		b.WriteString("Worked examples of the expected format:\n\n")
		for i, d := range demos {
			fmt.Fprintf(&b, "Example %d:\nQuestion: %s\nAnswer:\n%s\n\n", i+1, d.Question, d.Answer)
		}
	}

	if blob := strings.TrimSpace(contextBlob); blob != "" {
		b.WriteString("Reference material that may help:\n")
		b.WriteString(blob)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
