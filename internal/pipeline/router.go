package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// routePrompt forces a single categorical token so parsing stays
// trivial. Anything else is treated as ambiguous.
const routePrompt = `Decide where to find context for answering a mathematics question.
Respond with exactly one word and nothing else:
- knowledge_base: standard textbook-style problems a curated corpus of solved questions would cover
- web_search: questions needing current data, named real-world entities, or niche facts

Topic: %s
Question: %s`

// GenkitRouter makes the routing decision with one model call.
type GenkitRouter struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewGenkitRouter creates a router backed by the given model.
func NewGenkitRouter(g *genkit.Genkit, modelName string, logger *slog.Logger) *GenkitRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitRouter{g: g, modelName: modelName, logger: logger}
}

// Route returns the branch for a question. An unparsable response is
// ambiguous and resolves to the knowledge base.
func (r *GenkitRouter) Route(ctx context.Context, question, topic string) (Routing, error) {
	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithPrompt(fmt.Sprintf(routePrompt, topic, question)),
	)
	if err != nil {
		return RouteUnrouted, fmt.Errorf("routing call: %w", err)
	}

	return ParseRouting(resp.Text()), nil
}

// ParseRouting maps a model response to a routing decision, defaulting
// to knowledge_base when the response is ambiguous.
func ParseRouting(text string) Routing {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(t, string(RouteWebSearch)) {
		return RouteWebSearch
	}
	return RouteKnowledgeBase
}
