package llmcorrect

import (
	"strings"
	"testing"
)

func TestVerifyCorrectedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		original        string
		corrected       string
		corrections     []Correction
		wantText        string
		wantCorrections int
	}{
		{
			name:            "identical text",
			original:        "turn off the lights",
			corrected:       "turn off the lights",
			corrections:     nil,
			wantText:        "turn off the lights",
			wantCorrections: 0,
		},
		{
			name:      "single verified correction",
			original:  "check gravana alerts",
			corrected: "check Grafana alerts",
			corrections: []Correction{
				{Original: "gravana", Corrected: "Grafana", Confidence: 0.9},
			},
			wantText:        "check Grafana alerts",
			wantCorrections: 1,
		},
		{
			name:      "multi-word correction",
			original:  "the coober netties cluster is down",
			corrected: "the Kubernetes cluster is down",
			corrections: []Correction{
				{Original: "coober netties", Corrected: "Kubernetes", Confidence: 0.9},
			},
			wantText:        "the Kubernetes cluster is down",
			wantCorrections: 1,
		},
		{
			name:            "unverified change reverted",
			original:        "the cat sits quietly",
			corrected:       "the dog sits quietly",
			corrections:     nil,
			wantText:        "the cat sits quietly",
			wantCorrections: 0,
		},
		{
			name:      "mixed verified and unverified",
			original:  "coober netties runs on the old server",
			corrected: "Kubernetes runs on the ancient server",
			corrections: []Correction{
				{Original: "coober netties", Corrected: "Kubernetes", Confidence: 0.9},
			},
			wantText:        "Kubernetes runs on the old server",
			wantCorrections: 1,
		},
		{
			name:            "empty corrections with changed text reverts fully",
			original:        "play some jazz music",
			corrected:       "play some rock songs",
			corrections:     []Correction{},
			wantText:        "play some jazz music",
			wantCorrections: 0,
		},
		{
			name:      "punctuation attached to tokens",
			original:  "Call Aneka.",
			corrected: "Call Anneke.",
			corrections: []Correction{
				{Original: "Aneka", Corrected: "Anneke", Confidence: 0.85},
			},
			wantText:        "Call Anneke.",
			wantCorrections: 1,
		},
		{
			name:      "multiple verified corrections",
			original:  "coober netties alerts show in gravana.",
			corrected: "Kubernetes alerts show in Grafana.",
			corrections: []Correction{
				{Original: "coober netties", Corrected: "Kubernetes", Confidence: 0.9},
				{Original: "gravana", Corrected: "Grafana", Confidence: 0.85},
			},
			wantText:        "Kubernetes alerts show in Grafana.",
			wantCorrections: 2,
		},
		{
			name:      "case insensitive lookup",
			original:  "GRAVANA is down",
			corrected: "Grafana is down",
			corrections: []Correction{
				{Original: "gravana", Corrected: "Grafana", Confidence: 0.9},
			},
			wantText:        "Grafana is down",
			wantCorrections: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotText, gotCorr := verifyCorrectedText(tt.original, tt.corrected, tt.corrections)
			if gotText != tt.wantText {
				t.Errorf("text = %q, want %q", gotText, tt.wantText)
			}
			if len(gotCorr) != tt.wantCorrections {
				t.Errorf("corrections count = %d, want %d", len(gotCorr), tt.wantCorrections)
			}
		})
	}
}

func TestTokenLCS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []string
		wantLen int
	}{
		{"both empty", nil, nil, 0},
		{"a empty", nil, strings.Fields("hello world"), 0},
		{"b empty", strings.Fields("hello world"), nil, 0},
		{"identical", strings.Fields("a b c"), strings.Fields("a b c"), 3},
		{"no common", strings.Fields("a b"), strings.Fields("c d"), 0},
		{"partial overlap", strings.Fields("a b c d"), strings.Fields("a x c d"), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			anchors := tokenLCS(tt.a, tt.b)
			if len(anchors) != tt.wantLen {
				t.Errorf("LCS length = %d, want %d", len(anchors), tt.wantLen)
			}
		})
	}
}

func TestExtractChangeSpans(t *testing.T) {
	t.Parallel()

	orig := strings.Fields("a X c Y e")
	corr := strings.Fields("a B c D e")
	anchors := tokenLCS(orig, corr)
	spans := extractChangeSpans(orig, corr, anchors)

	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if strings.Join(spans[0].origTokens, " ") != "X" {
		t.Errorf("span[0].orig = %q, want %q", strings.Join(spans[0].origTokens, " "), "X")
	}
	if strings.Join(spans[0].corrTokens, " ") != "B" {
		t.Errorf("span[0].corr = %q, want %q", strings.Join(spans[0].corrTokens, " "), "B")
	}
	if strings.Join(spans[1].origTokens, " ") != "Y" {
		t.Errorf("span[1].orig = %q, want %q", strings.Join(spans[1].origTokens, " "), "Y")
	}
	if strings.Join(spans[1].corrTokens, " ") != "D" {
		t.Errorf("span[1].corr = %q, want %q", strings.Join(spans[1].corrTokens, " "), "D")
	}
}
