package parse

import (
	"reflect"
	"testing"
	"time"

	"github.com/matsurihq/taskbot/internal/config"
)

func ptr(t time.Time) *time.Time { return &t }

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.July, 10, 14, 30, 0, 0, time.UTC)
	}
}

func testExtractor() *Extractor {
	return NewExtractor(config.DefaultKeywords()).WithClock(fixedClock())
}

func TestExtractTitle(t *testing.T) {
	e := testExtractor()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"marker with colon separator", Normalize("タスク: 会場設営をする"), "会場設営をする"},
		{"marker with full-width colon", Normalize("タスク：音響チェック"), "音響チェック"},
		{"todo marker", Normalize("TODO: order lanterns"), "order lanterns"},
		{"stops at sentence end", Normalize("タスク 買い出しに行く。よろしく"), "買い出しに行く"},
		{"no marker", Normalize("こんにちは"), ""},
		{"marker with empty remainder", Normalize("タスク："), ""},
		{"leading particle stripped", Normalize("やること：を準備する"), "準備する"},
		{"trailing filler stripped", Normalize("タスク：テント設営お願いします"), "テント設営"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExtractTitle(tt.input)
			if got != tt.expected {
				t.Errorf("ExtractTitle(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	e := testExtractor()

	tests := []struct {
		input    string
		expected string
	}{
		{"を準備する", "準備する"},
		{"会場設営をする", "会場設営をする"},
		{"飾り付けです", "飾り付け"},
		{"買い出し。", "買い出し"},
		{"  ポスター貼り  ", "ポスター貼り"},
		// Denylisted tokens never reduce a title to nothing.
		{"です", "です"},
		{"を", "を"},
	}

	for _, tt := range tests {
		got := e.CleanTitle(tt.input)
		if got != tt.expected {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestExtractDeadline(t *testing.T) {
	e := testExtractor()
	day := func(d int) time.Time {
		return time.Date(2026, time.July, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		input    string
		expected *time.Time
	}{
		{"today", "今日中に", ptr(day(10))},
		{"tomorrow", "明日まで", ptr(day(11))},
		{"day after tomorrow", "明後日", ptr(day(12))},
		{"day of month", "15日まで", ptr(day(15))},
		{"full-width day of month", "２５日までに", ptr(day(25))},
		{"english today", "finish today", ptr(day(10))},
		{"english day after tomorrow", "day after tomorrow", ptr(day(12))},
		{"no deadline", "会場設営をする", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExtractDeadline(tt.input)
			if (got == nil) != (tt.expected == nil) {
				t.Fatalf("ExtractDeadline(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			if got != nil && !got.Equal(*tt.expected) {
				t.Errorf("ExtractDeadline(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractPriority(t *testing.T) {
	e := testExtractor()

	tests := []struct {
		input    string
		expected string
	}{
		{"緊急 会場の鍵を探す", PriorityHigh},
		{"至急お願いします", PriorityHigh},
		{"urgent: fix the generator", PriorityHigh},
		{"あとで看板を直す", PriorityLow},
		{"low priority cleanup", PriorityLow},
		{"タスク：会場設営", PriorityMedium},
		{"通常の買い出し", PriorityMedium},
	}

	for _, tt := range tests {
		got := e.ExtractPriority(tt.input)
		if got != tt.expected {
			t.Errorf("ExtractPriority(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"single mention", "@田中 お願いします", []string{"@田中"}},
		{"honorific stays attached", "@田中さん お願いします", []string{"@田中さん"}},
		{"multiple ordered", "@田中 @佐藤 手伝って", []string{"@田中", "@佐藤"}},
		{"duplicates preserved", "@taro @taro", []string{"@taro", "@taro"}},
		{"no mentions", "こんにちは", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractCombined(t *testing.T) {
	e := testExtractor()
	text := Normalize("タスク：明日までに@田中さんがポスター貼り")
	ex := e.Extract(text)

	if ex.Title == "" {
		t.Error("expected a title")
	}
	if !ex.HasDeadline {
		t.Error("expected a deadline")
	}
	if ex.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want medium", ex.Priority)
	}
	if len(ex.Mentions) != 1 || ex.Mentions[0] != "@田中さんがポスター貼り" {
		// The mention token runs to the next space, as written.
		t.Errorf("Mentions = %v", ex.Mentions)
	}
}
