package summarizer

import (
	"strings"
	"testing"
)

func TestSummarizePicksFrequentSentences(t *testing.T) {
	text := "Whales migrate across oceans. Whales sing to other whales. " +
		"The weather was mild. Whales feed on krill in cold oceans."
	got, err := NewFrequencySummarizer(0).Summarize(text, 2)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if strings.Contains(got, "weather") {
		t.Fatalf("unexpected low-signal sentence in %q", got)
	}
	if !strings.HasPrefix(got, "Whales") {
		t.Fatalf("expected original order to be kept, got %q", got)
	}
}

func TestSummarizeShortInput(t *testing.T) {
	got, _ := NewFrequencySummarizer(0).Summarize("  no terminator here  ", 3)
	if got != "no terminator here" {
		t.Fatalf("unexpected summary %q", got)
	}
	got, _ = NewFrequencySummarizer(0).Summarize("", 3)
	if got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestSummarizeRespectsInputLimit(t *testing.T) {
	text := "Alpha beta gamma. " + strings.Repeat("Delta epsilon. ", 50)
	got, _ := NewFrequencySummarizer(18).Summarize(text, 5)
	if got != "Alpha beta gamma." {
		t.Fatalf("expected only the first sentence, got %q", got)
	}
}
