package proposal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"go.uber.org/zap"
)

type scriptedGenerator struct {
	name      string
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedGenerator) Name() string { return s.name }

func (s *scriptedGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}

	i := len(s.prompts) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func generatorProject() *freelancer.Project {
	return &freelancer.Project{
		ID:           99,
		Title:        goodTitle,
		Description:  goodDescription,
		CurrencyCode: "USD",
		BudgetMin:    100,
		BudgetMax:    300,
		BidCount:     12,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestGenerateFirstTrySuccess(t *testing.T) {
	provider := &scriptedGenerator{name: "primary", responses: []string{goodProposal}}
	g := New(testConfig(), []ai.Generator{provider}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if !result.Success || !result.ValidationPassed {
		t.Fatalf("result = %+v, want validated success", result)
	}
	if result.Text != goodProposal {
		t.Fatal("text does not match the provider output")
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", result.Attempts)
	}
	if result.ModelUsed != "primary" {
		t.Fatalf("model = %q, want primary", result.ModelUsed)
	}
}

func TestGenerateFallsThroughProviderChain(t *testing.T) {
	broken := &scriptedGenerator{name: "broken", err: errors.New("rate limited")}
	healthy := &scriptedGenerator{name: "healthy", responses: []string{goodProposal}}
	g := New(testConfig(), []ai.Generator{broken, healthy}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if !result.Success {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if result.ModelUsed != "healthy" {
		t.Fatalf("model = %q, want the fallback provider", result.ModelUsed)
	}
}

func TestGenerateRetriesWithFeedback(t *testing.T) {
	flawed := strings.Repeat("I will do the work quickly and well for you today. ", 5)
	provider := &scriptedGenerator{name: "primary", responses: []string{flawed, goodProposal}}
	g := New(testConfig(), []ai.Generator{provider}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if !result.Success || !result.ValidationPassed {
		t.Fatalf("result = %+v, want validated success on retry", result)
	}
	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}

	retryPrompt := provider.prompts[1]
	if !strings.Contains(retryPrompt, "failed review") {
		t.Fatal("retry prompt lacks validation feedback")
	}
}

func TestGenerateCJKNeverShipsEvenWhenFlawedAllowed(t *testing.T) {
	provider := &scriptedGenerator{name: "primary", responses: []string{"我有丰富的经验，可以完成这个项目。"}}

	cfg := testConfig()
	cfg.AllowFlawedFinal = true
	g := New(cfg, []ai.Generator{provider}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if result.Success {
		t.Fatal("CJK output must never ship")
	}
	if result.Text != "" {
		t.Fatal("failed result must not carry partial output")
	}
	if result.Err == nil {
		t.Fatal("expected an error after exhausting retries")
	}

	// Every retry prompt after the first must demand English output.
	for _, prompt := range provider.prompts[1:] {
		if !strings.Contains(prompt, "English") {
			t.Fatal("language retry prompt lacks the English instruction")
		}
	}
}

func TestGenerateFlawedFinalPolicy(t *testing.T) {
	// Structurally flawed but harmless text on every attempt.
	flawed := strings.Repeat("I will do the work quickly and well for you today. ", 5)

	t.Run("allowed ships with warning", func(t *testing.T) {
		provider := &scriptedGenerator{name: "primary", responses: []string{flawed}}
		g := New(testConfig(), []ai.Generator{provider}, zap.NewNop())

		result := g.Generate(context.Background(), generatorProject(), 250)
		if !result.Success {
			t.Fatalf("unexpected failure: %v", result.Err)
		}
		if result.ValidationPassed {
			t.Fatal("flawed final must not be marked as validated")
		}
		if len(result.Issues) == 0 {
			t.Fatal("flawed final must carry its issues")
		}
	})

	t.Run("disallowed fails", func(t *testing.T) {
		provider := &scriptedGenerator{name: "primary", responses: []string{flawed}}

		cfg := testConfig()
		cfg.AllowFlawedFinal = false
		g := New(cfg, []ai.Generator{provider}, zap.NewNop())

		result := g.Generate(context.Background(), generatorProject(), 250)
		if result.Success {
			t.Fatal("flawed final shipped despite policy")
		}
		if result.Err == nil {
			t.Fatal("expected a validation error")
		}
	})
}

func TestGenerateCompressesLongDraft(t *testing.T) {
	long := goodProposal + strings.Repeat(" More detail about the delivery plan and approach.", 20)
	provider := &scriptedGenerator{name: "primary", responses: []string{long, goodProposal}}
	g := New(testConfig(), []ai.Generator{provider}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if !result.Success || !result.ValidationPassed {
		t.Fatalf("result = %+v, want success after compression", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want the compression inside attempt 1", result.Attempts)
	}

	compressionPrompt := provider.prompts[1]
	if !strings.Contains(compressionPrompt, "Rewrite the proposal") {
		t.Fatal("second call was not a compression rewrite")
	}
}

func TestGenerateAllProvidersFailed(t *testing.T) {
	provider := &scriptedGenerator{name: "down", err: errors.New("offline")}
	g := New(testConfig(), []ai.Generator{provider}, zap.NewNop())

	result := g.Generate(context.Background(), generatorProject(), 250)
	if result.Success {
		t.Fatal("expected failure with no working providers")
	}
	if !errors.Is(result.Err, errAllGeneratorsFailed) {
		t.Fatalf("err = %v, want errAllGeneratorsFailed", result.Err)
	}
}

func TestFallbackTemplate(t *testing.T) {
	g := New(testConfig(), nil, zap.NewNop())

	text := g.Fallback(generatorProject())
	if !strings.Contains(text, goodTitle) {
		t.Fatal("fallback does not mention the project title")
	}
	if paragraphs := strings.Split(text, "\n\n"); len(paragraphs) != 3 {
		t.Fatalf("fallback has %d paragraphs, want 3", len(paragraphs))
	}
	if ContainsCJK(text) {
		t.Fatal("fallback must be English")
	}
}
