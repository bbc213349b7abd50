package llmcorrect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm/mock"
)

func TestCorrect_NoTerms(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	c := New(provider)

	got, corrections, err := c.Correct(context.Background(), "check gravana alerts", nil)
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "check gravana alerts" {
		t.Errorf("text = %q, want unchanged input", got)
	}
	if corrections != nil {
		t.Errorf("corrections = %v, want nil", corrections)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Errorf("Complete called %d times, want 0", len(provider.CompleteCalls))
	}
}

func TestCorrect_AppliesDeclaredCorrection(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "check Grafana alerts", "corrections": [{"original": "gravana", "corrected": "Grafana", "confidence": 0.92}]}`,
		},
	}
	c := New(provider)

	got, corrections, err := c.Correct(context.Background(), "check gravana alerts", []string{"Grafana", "Kubernetes"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "check Grafana alerts" {
		t.Errorf("text = %q, want %q", got, "check Grafana alerts")
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "gravana" || corrections[0].Corrected != "Grafana" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", corrections[0].Confidence)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if req.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", req.Temperature)
	}
	if !strings.Contains(req.SystemPrompt, "- Grafana\n") || !strings.Contains(req.SystemPrompt, "- Kubernetes\n") {
		t.Errorf("system prompt missing vocabulary list:\n%s", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "check gravana alerts" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestCorrect_RevertsUndeclaredEdits(t *testing.T) {
	t.Parallel()

	// The model rewrote "old" to "ancient" without declaring it.
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "Grafana runs on the ancient server", "corrections": [{"original": "gravana", "corrected": "Grafana", "confidence": 0.9}]}`,
		},
	}
	c := New(provider)

	got, corrections, err := c.Correct(context.Background(), "gravana runs on the old server", []string{"Grafana"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "Grafana runs on the old server" {
		t.Errorf("text = %q, want undeclared edit reverted", got)
	}
	if len(corrections) != 1 {
		t.Errorf("got %d corrections, want 1", len(corrections))
	}
}

func TestCorrect_StripsMarkdownFences(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"corrected_text\": \"call Anneke now\", \"corrections\": [{\"original\": \"Aneka\", \"corrected\": \"Anneke\", \"confidence\": 0.8}]}\n```",
		},
	}
	c := New(provider)

	got, _, err := c.Correct(context.Background(), "call Aneka now", []string{"Anneke"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "call Anneke now" {
		t.Errorf("text = %q, want %q", got, "call Anneke now")
	}
}

func TestCorrect_UnparseableResponseFallsBack(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "Sure! Here is the corrected transcript: check Grafana alerts",
		},
	}
	c := New(provider)

	got, corrections, err := c.Correct(context.Background(), "check gravana alerts", []string{"Grafana"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "check gravana alerts" {
		t.Errorf("text = %q, want original unchanged", got)
	}
	if corrections != nil {
		t.Errorf("corrections = %v, want nil", corrections)
	}
}

func TestCorrect_EmptyCorrectedTextFallsBack(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "", "corrections": []}`,
		},
	}
	c := New(provider)

	got, corrections, err := c.Correct(context.Background(), "hello there", []string{"Grafana"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("text = %q, want original", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none", corrections)
	}
}

func TestCorrect_ProviderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("connection refused")
	provider := &mock.Provider{CompleteErr: wantErr}
	c := New(provider)

	got, _, err := c.Correct(context.Background(), "check gravana alerts", []string{"Grafana"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
	if got != "check gravana alerts" {
		t.Errorf("text = %q, want original on error", got)
	}
}

func TestCorrect_SelfCorrectionsDropped(t *testing.T) {
	t.Parallel()

	// Identity and empty-original entries must be filtered out.
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"corrected_text": "check Grafana alerts", "corrections": [{"original": "gravana", "corrected": "Grafana", "confidence": 0.9}, {"original": "alerts", "corrected": "alerts", "confidence": 1.0}, {"original": "", "corrected": "x", "confidence": 0.5}]}`,
		},
	}
	c := New(provider)

	_, corrections, err := c.Correct(context.Background(), "check gravana alerts", []string{"Grafana"})
	if err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "gravana" {
		t.Errorf("correction = %+v", corrections[0])
	}
}

func TestWithTemperature(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"corrected_text": "hi", "corrections": []}`},
	}
	c := New(provider, WithTemperature(0.3))

	if _, _, err := c.Correct(context.Background(), "hi", []string{"Grafana"}); err != nil {
		t.Fatalf("Correct returned error: %v", err)
	}
	if got := provider.CompleteCalls[0].Req.Temperature; got != 0.3 {
		t.Errorf("temperature = %v, want 0.3", got)
	}
}
