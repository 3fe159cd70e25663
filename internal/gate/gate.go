// Package gate validates question input and answer output against safety
// and domain-relevance policy.
//
// The input gate short-circuits on the first failed check: length, malicious
// patterns, sanitization, domain classification, appropriateness. Cheap
// keyword checks run first; the semantic classifier is only consulted for
// ambiguous inputs that contain digits.
//
// The output gate rejects empty or refusal-style answers and checks semantic
// relevance against the original question.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Violation identifies why text was rejected.
type Violation string

// Violation kinds.
const (
	ViolationNone            Violation = ""
	ViolationTooLong         Violation = "too_long"
	ViolationMalicious       Violation = "malicious_input"
	ViolationNonMathematical Violation = "non_mathematical"
	ViolationInappropriate   Violation = "inappropriate_content"
	ViolationUnsafeOutput    Violation = "unsafe_output"
)

// Verdict is the immutable result of one validation call.
type Verdict struct {
	IsValid       bool
	Reason        string
	SanitizedText string
	DetectedTopic string
	Violation     Violation
}

// MathClassification is the semantic classifier's view of a question.
type MathClassification struct {
	IsMathematical bool    `json:"is_mathematical"`
	Confidence     float64 `json:"confidence"`
	Topic          string  `json:"detected_topic"`
}

// RelevanceCheck is the semantic relevance verdict for an answer.
type RelevanceCheck struct {
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
}

// Classifier is the semantic collaborator consulted for ambiguous inputs
// and for output relevance. Defined here because the gate is the consumer.
type Classifier interface {
	ClassifyMath(ctx context.Context, text string) (MathClassification, error)
	CheckRelevance(ctx context.Context, answer, question string) (RelevanceCheck, error)
}

// Config holds the gate's policy knobs.
type Config struct {
	// MaxQuestionLength is the maximum accepted input length in runes.
	MaxQuestionLength int

	// MathKeywords accept a question outright when present.
	MathKeywords []string

	// BlockedTerms reject a question as inappropriate.
	BlockedTerms []string
}

// maliciousPatterns flag script/markup/code-injection fragments.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)__import__`),
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	digitRe      = regexp.MustCompile(`\d`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// mathSymbols are cheap signals that text is mathematical.
var mathSymbols = []string{
	"+", "-", "×", "÷", "=", "∫", "∑", "√", "^",
}

// mathTerms are function and operation names matched as whole words.
var mathTerms = []string{
	"sin", "cos", "tan", "log", "ln", "sqrt",
	"derivative", "integral", "equation", "matrix",
}

// wordProblemIndicators mark numeric word problems with calculation intent.
var wordProblemIndicators = []string{
	"how much", "how many", "what is", "calculate", "find",
	"total", "cost", "price", "paid", "per", "each",
	"if", "when", "given", "solve", "prove", "derive",
	"sum", "difference", "product", "quotient", "ratio",
	"percent", "percentage", "rate", "speed", "distance", "time",
	"more than", "less than", "times as much", "times as many",
}

// refusalPhrases flag answers where the model declined instead of solving.
var refusalPhrases = []string{
	"i cannot answer",
	"i'm not able to help",
	"i don't have information about",
}

// minOutputLength is the character floor below which an answer is rejected.
const minOutputLength = 10

// maxRefusalLength bounds the "short refusal" check: a long answer that
// merely mentions a refusal phrase is still accepted.
const maxRefusalLength = 200

// Gate validates input questions and output answers.
// Safe for concurrent use; all state is read-only after construction.
type Gate struct {
	maxLength  int
	keywords   []string
	blocked    []string
	classifier Classifier
	logger     *slog.Logger
}

// New creates a Gate. classifier may not be nil; use a stub in tests.
func New(cfg Config, classifier Classifier, logger *slog.Logger) (*Gate, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxLength := cfg.MaxQuestionLength
	if maxLength <= 0 {
		maxLength = 500
	}
	return &Gate{
		maxLength:  maxLength,
		keywords:   lowerAll(cfg.MathKeywords),
		blocked:    lowerAll(cfg.BlockedTerms),
		classifier: classifier,
		logger:     logger,
	}, nil
}

// ValidateInput checks a raw question. It never returns an error: a
// classifier failure downgrades to a conservative rejection, observable
// only through logging.
func (g *Gate) ValidateInput(ctx context.Context, text string) Verdict {
	if utf8.RuneCountInString(text) > g.maxLength {
		return Verdict{
			Reason:    fmt.Sprintf("input too long, maximum %d characters", g.maxLength),
			Violation: ViolationTooLong,
		}
	}

	for _, p := range maliciousPatterns {
		if p.MatchString(text) {
			return Verdict{
				Reason:    "potentially malicious input detected",
				Violation: ViolationMalicious,
			}
		}
	}

	sanitized := Sanitize(text)

	isMath, topic := g.classifyDomain(ctx, sanitized)
	if !isMath {
		return Verdict{
			Reason:        "question does not appear to be mathematical",
			Violation:     ViolationNonMathematical,
			SanitizedText: sanitized,
		}
	}

	lower := strings.ToLower(sanitized)
	for _, term := range g.blocked {
		if strings.Contains(lower, term) {
			return Verdict{
				Reason:        fmt.Sprintf("inappropriate content: %q", term),
				Violation:     ViolationInappropriate,
				SanitizedText: sanitized,
			}
		}
	}

	return Verdict{
		IsValid:       true,
		Reason:        "input passed all checks",
		SanitizedText: sanitized,
		DetectedTopic: topic,
	}
}

// classifyDomain decides whether sanitized text is a mathematics question.
// Fast paths: math keyword or symbol; numeric word problem. Ambiguous texts
// with digits defer to the semantic classifier. No digits and no keyword
// hit means a rejection without an LLM call.
func (g *Gate) classifyDomain(ctx context.Context, text string) (bool, string) {
	lower := strings.ToLower(text)

	padded := padWords(lower)
	keywordHit := containsAny(lower, g.keywords)
	symbolHit := containsAny(lower, mathSymbols)
	termHit := false
	for _, term := range mathTerms {
		if hasTerm(padded, lower, term) {
			termHit = true
			break
		}
	}
	if keywordHit || symbolHit || termHit {
		return true, DetectTopic(lower)
	}

	hasDigit := digitRe.MatchString(text)
	if hasDigit && containsAny(lower, wordProblemIndicators) {
		return true, TopicWordProblem
	}

	if hasDigit {
		result, err := g.classifier.ClassifyMath(ctx, text)
		if err != nil {
			g.logger.Warn("math classification failed, rejecting input", "error", err)
			return false, ""
		}
		topic := result.Topic
		if result.IsMathematical && topic == "" {
			topic = TopicGeneral
		}
		return result.IsMathematical, topic
	}

	return false, ""
}

// ValidateOutput checks a generated answer against the original question.
// On success the returned SanitizedText carries the normalized answer.
func (g *Gate) ValidateOutput(ctx context.Context, output, originalQuestion string) Verdict {
	trimmed := strings.TrimSpace(output)
	if len(trimmed) < minOutputLength {
		return Verdict{
			Reason:    "output is too short or empty",
			Violation: ViolationUnsafeOutput,
		}
	}

	relevance, err := g.classifier.CheckRelevance(ctx, output, originalQuestion)
	if err != nil {
		// Relevance is advisory; on classifier failure the answer passes.
		g.logger.Warn("relevance check failed, accepting output", "error", err)
	} else if !relevance.IsRelevant {
		return Verdict{
			Reason:        "output is not relevant to the question",
			Violation:     ViolationUnsafeOutput,
			SanitizedText: output,
		}
	}

	if len(trimmed) < maxRefusalLength {
		lower := strings.ToLower(trimmed)
		for _, phrase := range refusalPhrases {
			if strings.Contains(lower, phrase) {
				return Verdict{
					Reason:    "model refused to answer",
					Violation: ViolationUnsafeOutput,
				}
			}
		}
	}

	sanitized := blankLinesRe.ReplaceAllString(trimmed, "\n\n")
	return Verdict{
		IsValid:       true,
		Reason:        "output passed all checks",
		SanitizedText: sanitized,
	}
}

// Sanitize strips markup and collapses whitespace.
func Sanitize(text string) string {
	text = htmlTagRe.ReplaceAllString(text, "")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
