package pipeline

import (
	"context"

	"github.com/quadra0/quadra/internal/gate"
	"github.com/quadra0/quadra/internal/knowledge"
	"github.com/quadra0/quadra/internal/solver"
	"github.com/quadra0/quadra/internal/websearch"
)

// Routing is the categorical decision of where answer context comes from.
type Routing string

const (
	RouteUnrouted      Routing = "unrouted"
	RouteKnowledgeBase Routing = "knowledge_base"
	RouteWebSearch     Routing = "web_search"
	RouteRejected      Routing = "rejected"
)

// state names the stages of one pipeline run. Escalation from the
// knowledge-base branch into web search is a regular transition
// (stateRetrieve -> stateSearch), not a recursive call.
type state int

const (
	stateGateIn state = iota
	stateRoute
	stateRetrieve
	stateSearch
	stateGenerate
	stateGateOut
	stateRejected
	stateEnd
)

// AnswerResult is the outcome of one question run.
type AnswerResult struct {
	// Success is false only when generation itself was lost entirely.
	// Gate rejections and degraded context still report true.
	Success bool `json:"success"`

	// Answer is the final answer text, or a refusal/apology message.
	Answer string `json:"answer"`

	// Steps are the "Step N: ..." lines extracted from the answer.
	Steps []string `json:"steps"`

	// Confidence is the heuristic trust estimate in [0, 1].
	Confidence float64 `json:"confidence"`

	// Sources cites where the context came from.
	Sources []string `json:"sources"`

	// RoutingDecision records which branch answered the question.
	RoutingDecision Routing `json:"routing_decision"`

	// UsedWebSearch reports whether web results fed the answer.
	UsedWebSearch bool `json:"used_web_search"`

	// Topic is the detected mathematical topic.
	Topic string `json:"topic"`

	// Error carries the soft failure reason, empty when clean.
	Error string `json:"error,omitempty"`
}

// Correction is a validated user correction used as answer context.
type Correction struct {
	Question string
	Answer   string
}

// Gatekeeper validates questions and answers.
type Gatekeeper interface {
	ValidateInput(ctx context.Context, text string) gate.Verdict
	ValidateOutput(ctx context.Context, output, originalQuestion string) gate.Verdict
}

// Router picks the context branch for a question.
type Router interface {
	Route(ctx context.Context, question, topic string) (Routing, error)
}

// Retriever searches the knowledge base.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]knowledge.Hit, error)
}

// Searcher queries external web search.
type Searcher interface {
	Search(ctx context.Context, question string) (websearch.Result, error)
}

// Generator produces an answer from a question plus context.
type Generator interface {
	Generate(ctx context.Context, question, contextBlob string) (solver.Answer, error)
}

// CorrectionSource supplies recent validated corrections, best-effort.
type CorrectionSource interface {
	CanonicalCorrections(ctx context.Context, limit int) ([]Correction, error)
}
