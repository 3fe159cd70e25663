package feedback

import "strings"

// MinTrainingExamples is the smallest example set worth optimizing
// against; anything less overfits to noise.
const MinTrainingExamples = 5

// MineExamples derives training examples from high-rated records,
// which must arrive newest first. Records explicitly marked correct
// are taken first; if fewer than minCount are found, the pool extends
// to records not explicitly marked incorrect. Questions are
// deduplicated, keeping the newest record. The answer is the user's
// correction when present, the generated answer otherwise.
func MineExamples(records []Record, minCount int) []TrainingExample {
	if minCount <= 0 {
		minCount = MinTrainingExamples
	}

	seen := make(map[string]bool, len(records))
	var examples []TrainingExample

	add := func(rec Record) {
		key := normalizeQuestion(rec.Question)
		if seen[key] {
			return
		}
		seen[key] = true
		answer := rec.CorrectedAnswer
		if answer == "" {
			answer = rec.GeneratedAnswer
		}
		examples = append(examples, TrainingExample{
			Question: rec.Question,
			Answer:   answer,
			Rating:   rec.Rating,
		})
	}

	for _, rec := range records {
		if rec.Rating >= 4 && rec.IsCorrect != nil && *rec.IsCorrect {
			add(rec)
		}
	}
	if len(examples) >= minCount {
		return examples
	}

	for _, rec := range records {
		if rec.Rating < 4 {
			continue
		}
		if rec.IsCorrect != nil && !*rec.IsCorrect {
			continue
		}
		add(rec)
		if len(examples) >= minCount {
			break
		}
	}
	return examples
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// SuggestImprovements pairs each low-rated record with a heuristic
// action for a human reviewer.
func SuggestImprovements(records []Record) []Suggestion {
	suggestions := make([]Suggestion, 0, len(records))
	for _, rec := range records {
		action := ActionMonitor
		switch {
		case rec.IsCorrect != nil && !*rec.IsCorrect:
			action = ActionReviewCorrection
		case rec.Rating <= 2:
			action = ActionImproveClarity
		}
		suggestions = append(suggestions, Suggestion{
			Question:  rec.Question,
			Rating:    rec.Rating,
			Action:    action,
			CreatedAt: rec.CreatedAt,
		})
	}
	return suggestions
}
