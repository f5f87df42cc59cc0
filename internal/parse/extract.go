package parse

import (
	"regexp"
	"strings"
	"time"

	"github.com/matsurihq/taskbot/internal/config"
)

// Priority levels extracted from message text.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Relative deadline phrases, checked in order. "day after tomorrow" has to be
// checked before "tomorrow" so the longer phrase wins.
var (
	dayAfterTomorrowWords = []string{"明後日", "あさって", "day after tomorrow"}
	tomorrowWords         = []string{"明日", "あした", "tomorrow"}
	todayWords            = []string{"今日", "本日", "today"}
)

// dayOfMonthPattern matches absolute deadlines like "15日" (full-width digits
// included).
var dayOfMonthPattern = regexp.MustCompile(`([0-9０-９]{1,2})日`)

// mentionPattern matches @-prefixed mention tokens. Honorific suffixes stay
// attached to the token as written.
var mentionPattern = regexp.MustCompile(`@[^\s　@]+`)

// titleTerminators end a title fragment.
const titleTerminators = "。．.!！?？"

// titleSeparators may sit between a task marker and the title.
const titleSeparators = " 　:：、,，-ー"

// Extracted holds the structured candidates pulled out of one message.
type Extracted struct {
	Title       string
	Deadline    *time.Time
	HasDeadline bool
	Priority    string
	Mentions    []string
}

// Extractor pulls structured entities out of normalized message text.
// The clock is injectable so deadline extraction is testable.
type Extractor struct {
	keywords *config.Keywords
	now      func() time.Time
}

// NewExtractor creates an extractor backed by the given keyword tables.
func NewExtractor(keywords *config.Keywords) *Extractor {
	if keywords == nil {
		keywords = config.DefaultKeywords()
	}
	return &Extractor{
		keywords: keywords,
		now:      time.Now,
	}
}

// WithClock replaces the extractor's clock. Intended for tests.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract runs every extraction over the normalized text.
func (e *Extractor) Extract(text string) Extracted {
	deadline := e.ExtractDeadline(text)
	return Extracted{
		Title:       e.ExtractTitle(text),
		Deadline:    deadline,
		HasDeadline: deadline != nil,
		Priority:    e.ExtractPriority(text),
		Mentions:    ExtractMentions(text),
	}
}

// ExtractTitle locates the first task-marker token in the text and returns
// what follows it, up to the first sentence-terminating mark, cleaned of
// leading separators and denylisted filler tokens. Returns "" when no marker
// is present or nothing usable follows it.
func (e *Extractor) ExtractTitle(text string) string {
	lower := strings.ToLower(text)

	markerEnd := -1
	markerStart := len(text)
	for _, marker := range e.keywords.TaskMarkers {
		idx := strings.Index(lower, strings.ToLower(marker))
		if idx >= 0 && idx < markerStart {
			markerStart = idx
			markerEnd = idx + len(marker)
		}
	}
	if markerEnd < 0 {
		return ""
	}

	rest := strings.TrimLeft(text[markerEnd:], titleSeparators)
	if cut := strings.IndexAny(rest, titleTerminators); cut >= 0 {
		rest = rest[:cut]
	}

	return e.CleanTitle(rest)
}

// CleanTitle strips trailing punctuation and denylisted grammatical filler
// tokens from a title fragment, so "を準備する" becomes "準備する".
func (e *Extractor) CleanTitle(title string) string {
	t := strings.TrimSpace(title)
	t = strings.TrimRight(t, titleTerminators+"、,， ")

	for changed := true; changed; {
		changed = false
		for _, filler := range e.keywords.TrailingFillers {
			if strings.HasSuffix(t, filler) && len(t) > len(filler) {
				t = strings.TrimSpace(strings.TrimSuffix(t, filler))
				changed = true
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, particle := range e.keywords.LeadingParticles {
			if strings.HasPrefix(t, particle) && len(t) > len(particle) {
				t = strings.TrimSpace(strings.TrimPrefix(t, particle))
				changed = true
			}
		}
	}

	return strings.TrimSpace(t)
}

// ExtractDeadline recognizes relative deadline phrases (today, tomorrow, day
// after tomorrow) and the absolute "<n>日" form, mapped into the current
// month and year. Only the first matching category applies; nil means no
// deadline was found.
func (e *Extractor) ExtractDeadline(text string) *time.Time {
	lower := strings.ToLower(text)
	now := e.now()

	if containsAny(lower, dayAfterTomorrowWords) {
		return datePtr(now, 2)
	}
	if containsAny(lower, tomorrowWords) {
		return datePtr(now, 1)
	}
	if containsAny(lower, todayWords) {
		return datePtr(now, 0)
	}

	if m := dayOfMonthPattern.FindStringSubmatch(text); m != nil {
		day := parseDigits(m[1])
		if day >= 1 && day <= 31 {
			d := time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, now.Location())
			return &d
		}
	}

	return nil
}

// ExtractPriority maps priority keywords onto high/medium/low. A message with
// a task marker but no priority keyword defaults to medium.
func (e *Extractor) ExtractPriority(text string) string {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, e.keywords.PriorityHigh):
		return PriorityHigh
	case containsAny(lower, e.keywords.PriorityMedium):
		return PriorityMedium
	case containsAny(lower, e.keywords.PriorityLow):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ExtractMentions returns every @-prefixed token in the text, preserving
// order and duplicates as written.
func ExtractMentions(text string) []string {
	return mentionPattern.FindAllString(text, -1)
}

// ContainsMarker reports whether the text contains any task-marker keyword.
func (e *Extractor) ContainsMarker(text string) bool {
	return containsAny(strings.ToLower(text), e.keywords.TaskMarkers)
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func datePtr(now time.Time, offsetDays int) *time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	d = d.AddDate(0, 0, offsetDays)
	return &d
}

func parseDigits(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
		case r >= '０' && r <= '９':
			n = n*10 + int(r-'０')
		}
	}
	return n
}
