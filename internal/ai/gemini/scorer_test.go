package gemini

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (g *stubGenerator) Name() string { return "gemini" }

func (g *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func TestScorerParsesResponse(t *testing.T) {
	gen := &stubGenerator{response: "```json\n{\"score\": 7, \"reason\": \"solid\", \"suggested_bid\": 200}\n```"}
	s := NewScorer(gen, zap.NewNop(), 0)

	result, err := s.Score(context.Background(), "system instructions", "{\"title\": \"x\"}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Score != 7 {
		t.Fatalf("Score = %v, want 7", result.Score)
	}
	if result.Provider != "gemini" {
		t.Fatalf("Provider = %q, want gemini", result.Provider)
	}
	if gen.lastPrompt == "" {
		t.Fatal("generator was not called")
	}
}

func TestScorerPropagatesGeneratorError(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	s := NewScorer(&stubGenerator{err: wantErr}, zap.NewNop(), 0)

	if _, err := s.Score(context.Background(), "sys", "payload"); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestScorerRejectsMalformedResponse(t *testing.T) {
	s := NewScorer(&stubGenerator{response: "I cannot answer that."}, zap.NewNop(), 0)

	if _, err := s.Score(context.Background(), "sys", "payload"); err == nil {
		t.Fatal("expected parse error")
	}
}
