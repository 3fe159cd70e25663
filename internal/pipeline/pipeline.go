// Package pipeline turns a raw question into a validated, sourced,
// confidence-scored answer. One run walks an explicit state machine:
// input gate, routing, retrieval or web search (with one automatic
// escalation), generation, output gate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	// retrieveTopK is how many knowledge-base matches are fetched.
	retrieveTopK = 3

	// contextHits caps how many retrieval hits enter the prompt.
	contextHits = 2

	// contextCorrections caps recent corrections in the prompt.
	contextCorrections = 3
)

// apologyAnswer is returned when every generation path failed.
const apologyAnswer = "I am sorry, I could not produce an answer to this question right now. Please try again."

// refusalFormat explains a gate rejection to the user.
const refusalFormat = "I can only help with mathematics questions. Your question was not accepted: %s"

// Pipeline orchestrates one run per question. Safe for unbounded
// concurrent use; runs share nothing but their read-only collaborators.
type Pipeline struct {
	gate        Gatekeeper
	router      Router
	retriever   Retriever
	searcher    Searcher
	generator   Generator
	corrections CorrectionSource
	logger      *slog.Logger
}

// Config wires a Pipeline. Gate, Router, Retriever, Searcher and
// Generator are required; Corrections may be nil.
type Config struct {
	Gate        Gatekeeper
	Router      Router
	Retriever   Retriever
	Searcher    Searcher
	Generator   Generator
	Corrections CorrectionSource
	Logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Gate == nil:
		return nil, fmt.Errorf("gate is required")
	case cfg.Router == nil:
		return nil, fmt.Errorf("router is required")
	case cfg.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case cfg.Searcher == nil:
		return nil, fmt.Errorf("searcher is required")
	case cfg.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gate:        cfg.Gate,
		router:      cfg.Router,
		retriever:   cfg.Retriever,
		searcher:    cfg.Searcher,
		generator:   cfg.Generator,
		corrections: cfg.Corrections,
		logger:      logger,
	}, nil
}

// run is the mutable record threaded through one execution. It is
// owned exclusively by that execution and discarded afterwards.
type run struct {
	raw       string
	sanitized string
	topic     string
	routing   Routing

	hits       []hitContext
	searchBlob string
	searchOK   bool
	sources    []string

	answer       string
	steps        []string
	confidence   float64
	usedArtifact bool
	success      bool

	errReason string
}

type hitContext struct {
	question string
	answer   string
}

// recordError keeps the first failure reason; later ones are appended
// so nothing is silently lost.
func (r *run) recordError(reason string) {
	if r.errReason == "" {
		r.errReason = reason
		return
	}
	r.errReason += "; " + reason
}

// Process answers one question. It never returns an error: domain
// failures are absorbed into the result per the transition rules.
func (p *Pipeline) Process(ctx context.Context, question string) AnswerResult {
	r := &run{raw: question, routing: RouteUnrouted, success: true}

	for st := stateGateIn; st != stateEnd; {
		switch st {
		case stateGateIn:
			st = p.gateIn(ctx, r)
		case stateRoute:
			st = p.route(ctx, r)
		case stateRetrieve:
			st = p.retrieve(ctx, r)
		case stateSearch:
			st = p.search(ctx, r)
		case stateGenerate:
			st = p.generate(ctx, r)
		case stateGateOut:
			st = p.gateOut(ctx, r)
		case stateRejected:
			st = p.reject(r)
		}
	}

	return AnswerResult{
		Success:         r.success,
		Answer:          r.answer,
		Steps:           r.steps,
		Confidence:      r.confidence,
		Sources:         r.sources,
		RoutingDecision: r.routing,
		UsedWebSearch:   r.searchOK,
		Topic:           r.topic,
		Error:           r.errReason,
	}
}

func (p *Pipeline) gateIn(ctx context.Context, r *run) state {
	verdict := p.gate.ValidateInput(ctx, r.raw)
	if !verdict.IsValid {
		r.recordError(verdict.Reason)
		return stateRejected
	}
	r.sanitized = verdict.SanitizedText
	r.topic = verdict.DetectedTopic
	return stateRoute
}

func (p *Pipeline) route(ctx context.Context, r *run) state {
	routing, err := p.router.Route(ctx, r.sanitized, r.topic)
	if err != nil {
		p.logger.Warn("routing call failed, defaulting to knowledge base", "error", err)
		routing = RouteKnowledgeBase
	}
	if routing != RouteKnowledgeBase && routing != RouteWebSearch {
		routing = RouteKnowledgeBase
	}
	r.routing = routing
	if routing == RouteWebSearch {
		return stateSearch
	}
	return stateRetrieve
}

// retrieve queries the knowledge base. Zero matches or a failed call
// escalates into the search state within the same run.
func (p *Pipeline) retrieve(ctx context.Context, r *run) state {
	hits, err := p.retriever.Search(ctx, r.sanitized, retrieveTopK)
	if err != nil {
		p.logger.Warn("retrieval failed, escalating to web search", "error", err)
		r.recordError("knowledge base retrieval failed")
		r.routing = RouteWebSearch
		return stateSearch
	}
	if len(hits) == 0 {
		r.recordError("no knowledge base match")
		r.routing = RouteWebSearch
		return stateSearch
	}

	for _, h := range hits {
		r.hits = append(r.hits, hitContext{question: h.Question, answer: h.Answer})
		r.sources = append(r.sources, "Knowledge Base - "+h.Source)
	}
	return stateGenerate
}

// search queries web search. A failure leaves the context empty and
// records a soft error; generation still proceeds.
func (p *Pipeline) search(ctx context.Context, r *run) state {
	res, err := p.searcher.Search(ctx, r.sanitized)
	if err != nil {
		p.logger.Warn("web search failed, continuing with degraded context", "error", err)
		r.recordError("web search failed")
		return stateGenerate
	}
	if !res.Success {
		r.recordError("web search returned no usable results")
		return stateGenerate
	}
	r.searchBlob = res.Content
	r.searchOK = true
	r.sources = append(r.sources, res.Sources...)
	return stateGenerate
}

func (p *Pipeline) generate(ctx context.Context, r *run) state {
	blob := p.buildContext(ctx, r)

	ans, err := p.generator.Generate(ctx, r.sanitized, blob)
	if err != nil {
		p.logger.Error("generation failed on every path", "error", err)
		r.recordError("generation failed")
		r.answer = apologyAnswer
		r.success = false
		r.confidence = p.scoreConfidence(r)
		return stateEnd
	}

	r.answer = ans.Text
	r.usedArtifact = ans.UsedArtifact
	r.steps = ExtractSteps(ans.Text)
	r.confidence = p.scoreConfidence(r)
	return stateGateOut
}

// gateOut validates the answer. A failed output check records the
// reason but still returns the answer; the pipeline does not
// re-generate.
func (p *Pipeline) gateOut(ctx context.Context, r *run) state {
	verdict := p.gate.ValidateOutput(ctx, r.answer, r.sanitized)
	if !verdict.IsValid {
		p.logger.Warn("output validation failed", "reason", verdict.Reason)
		r.recordError("output validation: " + verdict.Reason)
		return stateEnd
	}
	if verdict.SanitizedText != "" {
		r.answer = verdict.SanitizedText
	}
	return stateEnd
}

func (p *Pipeline) reject(r *run) state {
	r.routing = RouteRejected
	r.answer = fmt.Sprintf(refusalFormat, r.errReason)
	r.confidence = 0
	return stateEnd
}

// buildContext assembles the generation context: up to two retrieval
// hits, the search blob, and up to three recent corrections. The
// corrections fetch is best-effort and never fails the run.
func (p *Pipeline) buildContext(ctx context.Context, r *run) string {
	var b strings.Builder

	for i, h := range r.hits {
		if i >= contextHits {
			break
		}
		fmt.Fprintf(&b, "Similar question: %s\nKnown answer: %s\n\n", h.question, h.answer)
	}

	if r.searchBlob != "" {
		b.WriteString(r.searchBlob)
		b.WriteString("\n\n")
	}

	if p.corrections != nil {
		corrections, err := p.corrections.CanonicalCorrections(ctx, contextCorrections)
		if err != nil {
			p.logger.Debug("fetching corrections failed, continuing without", "error", err)
		}
		for _, c := range corrections {
			fmt.Fprintf(&b, "Previously corrected: %s\nCorrect answer: %s\n\n", c.Question, c.Answer)
		}
	}

	return strings.TrimSpace(b.String())
}

// scoreConfidence computes the heuristic trust estimate: base 0.5,
// +0.3 for retrieval hits, +0.2 for successful search, -0.2 when an
// error was recorded, clamped to [0, 1]. An artifact-backed answer is
// floored at 0.5.
func (p *Pipeline) scoreConfidence(r *run) float64 {
	score := 0.5
	if len(r.hits) > 0 {
		score += 0.3
	}
	if r.searchOK {
		score += 0.2
	}
	if r.errReason != "" {
		score -= 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if r.usedArtifact && score < 0.5 {
		score = 0.5
	}
	return score
}

var stepRe = regexp.MustCompile(`(?m)^\s*(Step\s+\d+\s*:\s*.+)$`)

// ExtractSteps collects the "Step N: ..." lines from an answer, in
// order. Text without step markers yields an empty list, never an
// error.
func ExtractSteps(answer string) []string {
	matches := stepRe.FindAllStringSubmatch(answer, -1)
	steps := make([]string, 0, len(matches))
	for _, m := range matches {
		steps = append(steps, strings.TrimSpace(m[1]))
	}
	return steps
}
