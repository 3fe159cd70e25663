package gate

import (
	"regexp"
	"strings"
)

// Topic names assigned by keyword detection.
const (
	TopicGeneral     = "general"
	TopicWordProblem = "word_problem"
)

// topicKeywords maps each topic to its indicator terms. Order matters:
// earlier topics win when a question matches several.
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"algebra", []string{"equation", "variable", "polynomial", "linear", "quadratic"}},
	{"calculus", []string{"derivative", "integral", "limit", "differential", "differentiate"}},
	{"geometry", []string{"triangle", "circle", "angle", "area", "perimeter", "volume"}},
	{"trigonometry", []string{"sin", "cos", "tan", "sine", "cosine", "tangent"}},
	{"statistics", []string{"mean", "median", "standard deviation", "probability", "distribution"}},
	{"arithmetic", []string{"addition", "subtraction", "multiplication", "division", "fraction"}},
	{TopicWordProblem, []string{"how much", "how many", "cost", "price", "paid", "per", "total", "salary", "earnings", "profit", "spend", "buy", "sell"}},
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// padWords normalizes lowercased text for whole-word lookup: punctuation
// becomes spaces and the result is padded so " term " matching works at
// the edges. Single-word terms must match whole words only, otherwise
// "cos" fires inside "costs" and "tan" inside "standard".
func padWords(lower string) string {
	return " " + nonWordRe.ReplaceAllString(lower, " ") + " "
}

func hasTerm(padded, lower, term string) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(lower, term)
	}
	return strings.Contains(padded, " "+term+" ")
}

// DetectTopic returns the mathematical topic for already-lowercased text,
// or TopicGeneral when nothing matches.
func DetectTopic(lower string) string {
	padded := padWords(lower)
	for _, t := range topicKeywords {
		for _, kw := range t.keywords {
			if hasTerm(padded, lower, kw) {
				return t.topic
			}
		}
	}
	return TopicGeneral
}
