package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// maxClassifierResponseBytes limits LLM response size before JSON parsing.
const maxClassifierResponseBytes = 4 * 1024

// relevanceAnswerPreview caps how much of the answer goes into the
// relevance prompt.
const relevanceAnswerPreview = 500

const classifyPrompt = `Determine if the following question is a mathematics question.
A mathematics question is about topics like: algebra, geometry, calculus,
trigonometry, statistics, probability, arithmetic, number theory, or any
mathematical concept.

Question: %s

Respond with ONLY a JSON object:
{"is_mathematical": true/false, "confidence": 0.0-1.0, "detected_topic": "topic name or \"\""}`

const relevancePrompt = `Evaluate if the answer is relevant and helpful for the given mathematical question.

Question: %s

Answer: %s

Respond with ONLY a JSON object:
{"is_relevant": true/false, "confidence": 0.0-1.0}`

// GenkitClassifier implements Classifier using Genkit completion calls.
type GenkitClassifier struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitClassifier creates a classifier bound to the given model.
func NewGenkitClassifier(g *genkit.Genkit, modelName string) (*GenkitClassifier, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	return &GenkitClassifier{g: g, modelName: modelName}, nil
}

// ClassifyMath asks the model whether text is a mathematics question.
func (c *GenkitClassifier) ClassifyMath(ctx context.Context, text string) (MathClassification, error) {
	var result MathClassification
	if err := c.generateJSON(ctx, fmt.Sprintf(classifyPrompt, text), &result); err != nil {
		return MathClassification{}, fmt.Errorf("classifying question: %w", err)
	}
	return result, nil
}

// CheckRelevance asks the model whether an answer addresses the question.
func (c *GenkitClassifier) CheckRelevance(ctx context.Context, answer, question string) (RelevanceCheck, error) {
	preview := previewAnswer(answer)
	var result RelevanceCheck
	if err := c.generateJSON(ctx, fmt.Sprintf(relevancePrompt, question, preview), &result); err != nil {
		return RelevanceCheck{}, fmt.Errorf("checking relevance: %w", err)
	}
	return result, nil
}

// previewAnswer caps the answer text for the relevance prompt, backing
// up to a rune boundary so the prompt stays valid UTF-8.
func previewAnswer(answer string) string {
	if len(answer) <= relevanceAnswerPreview {
		return answer
	}
	cut := relevanceAnswerPreview
	for cut > 0 && !utf8.RuneStart(answer[cut]) {
		cut--
	}
	return answer[:cut] + "..."
}

// generateJSON runs one completion and unmarshals its JSON response.
func (c *GenkitClassifier) generateJSON(ctx context.Context, prompt string, out any) error {
	opts := []ai.GenerateOption{ai.WithPrompt(prompt)}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return fmt.Errorf("generating classification: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fmt.Errorf("empty classification response")
	}
	if len(text) > maxClassifierResponseBytes {
		return fmt.Errorf("classification response too large: %d bytes", len(text))
	}

	text = StripCodeFences(text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("parsing classification result: %w", err)
	}
	return nil
}

// StripCodeFences removes a surrounding markdown code fence, if present.
// Models often wrap JSON in ```json fences despite instructions.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
