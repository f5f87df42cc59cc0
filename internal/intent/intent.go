// Package intent classifies normalized message text into exactly one intent
// via an ordered rule cascade. The first matching rule wins; the order
// (creation > completion > assignment > status inquiry > general) is fixed.
package intent

import (
	"strings"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/parse"
)

// Intent represents the classified purpose of a message
type Intent string

const (
	IntentTaskCreation   Intent = "task_creation"
	IntentTaskCompletion Intent = "task_completion"
	IntentTaskAssignment Intent = "task_assignment"
	IntentStatusInquiry  Intent = "status_inquiry"
	IntentGeneral        Intent = "general_message"
)

// Description returns a human-readable description of the intent
func (i Intent) Description() string {
	switch i {
	case IntentTaskCreation:
		return "Task creation"
	case IntentTaskCompletion:
		return "Task completion"
	case IntentTaskAssignment:
		return "Task assignment"
	case IntentStatusInquiry:
		return "Status inquiry"
	case IntentGeneral:
		return "General message"
	default:
		return "Unknown"
	}
}

// Classification is the result of classifying one message.
type Classification struct {
	Intent     Intent
	Confidence float64 // always in [0,1]
}

// rule is one entry in the cascade: a predicate plus a confidence formula.
type rule struct {
	intent     Intent
	matches    func(lower string, ex parse.Extracted) bool
	confidence func(lower string, ex parse.Extracted) float64
}

// Classifier applies the rule cascade against a fixed set of keyword tables.
type Classifier struct {
	keywords *config.Keywords
	rules    []rule
}

// NewClassifier builds the ordered cascade for the given keyword tables.
func NewClassifier(keywords *config.Keywords) *Classifier {
	if keywords == nil {
		keywords = config.DefaultKeywords()
	}
	c := &Classifier{keywords: keywords}

	c.rules = []rule{
		{
			intent: IntentTaskCreation,
			matches: func(lower string, _ parse.Extracted) bool {
				return c.containsAny(lower, keywords.TaskMarkers)
			},
			confidence: func(_ string, ex parse.Extracted) float64 {
				conf := 0.5
				if ex.Title != "" {
					conf += 0.25
				}
				if ex.HasDeadline {
					conf += 0.15
				}
				return conf
			},
		},
		{
			intent: IntentTaskCompletion,
			matches: func(lower string, _ parse.Extracted) bool {
				return c.containsAny(lower, keywords.Completion)
			},
			confidence: func(string, parse.Extracted) float64 { return 0.7 },
		},
		{
			intent: IntentTaskAssignment,
			matches: func(lower string, ex parse.Extracted) bool {
				return len(ex.Mentions) > 0 && c.containsAny(lower, keywords.Assignment)
			},
			confidence: func(lower string, _ parse.Extracted) float64 {
				conf := 0.3
				for _, w := range c.keywords.Assignment {
					if w != "@" && strings.Contains(lower, strings.ToLower(w)) {
						conf += 0.2
						break
					}
				}
				return conf
			},
		},
		{
			intent: IntentStatusInquiry,
			matches: func(lower string, _ parse.Extracted) bool {
				return c.containsAny(lower, keywords.StatusInquiry)
			},
			confidence: func(string, parse.Extracted) float64 { return 0.6 },
		},
	}

	return c
}

// Classify selects exactly one intent for the normalized text. Rules are
// evaluated top to bottom; anything unmatched falls through to
// general_message with low confidence.
func (c *Classifier) Classify(text string, ex parse.Extracted) Classification {
	lower := strings.ToLower(text)

	for _, r := range c.rules {
		if r.matches(lower, ex) {
			return Classification{
				Intent:     r.intent,
				Confidence: clamp(r.confidence(lower, ex)),
			}
		}
	}

	return Classification{Intent: IntentGeneral, Confidence: 0.1}
}

func (c *Classifier) containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
