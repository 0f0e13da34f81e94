// Package proposal turns a scored project into a submission-ready
// proposal text: prompt assembly, provider chain, content validation
// with retry feedback, and a deterministic fallback template.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/utils"

	"go.uber.org/zap"
)

//go:embed prompt.md
var basePrompt string

var errAllGeneratorsFailed = errors.New("all proposal generators failed")

// Config tunes the generation loop.
type Config struct {
	MaxRetries int           `mapstructure:"max-retries"`
	MinLength  int           `mapstructure:"min-length"`
	MaxLength  int           `mapstructure:"max-length"`
	RetryDelay time.Duration `mapstructure:"retry-delay"`

	// AllowFlawedFinal returns the last draft with its issues attached
	// instead of failing when every attempt trips validation. Language
	// gate failures are excluded and always fail outright.
	AllowFlawedFinal bool `mapstructure:"allow-flawed-final"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		MinLength:        200,
		MaxLength:        800,
		RetryDelay:       time.Second,
		AllowFlawedFinal: true,
	}
}

// GenResult is the outcome of one generation run.
type GenResult struct {
	Success          bool
	Text             string
	Attempts         int
	ValidationPassed bool
	Issues           []string
	ModelUsed        string
	Err              error
}

// Generator drives the proposal loop over a prioritized provider chain.
type Generator struct {
	cfg       Config
	providers []ai.Generator
	validator *Validator
	logger    *zap.Logger
}

func New(cfg Config, providers []ai.Generator, logger *zap.Logger) *Generator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Generator{
		cfg:       cfg,
		providers: providers,
		validator: NewValidator(cfg.MinLength, cfg.MaxLength),
		logger:    logger,
	}
}

// Generate produces a proposal for the project. expectedQuote is the
// bid amount the text must stay consistent with; 0 disables the check.
func (g *Generator) Generate(ctx context.Context, p *freelancer.Project, expectedQuote float64) *GenResult {
	if len(g.providers) == 0 {
		return &GenResult{Err: errors.New("no proposal providers configured")}
	}

	prompt := g.buildPrompt(p, expectedQuote)
	result := &GenResult{}

	var lastText string
	var lastIssues []string
	languageFailure := false

	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		text, provider, err := g.callChain(ctx, prompt)
		if err != nil {
			if attempt < g.cfg.MaxRetries-1 {
				if waitErr := utils.WaitFor(ctx, time.Duration(attempt+1)*g.cfg.RetryDelay); waitErr != nil {
					result.Err = waitErr
					return result
				}
				continue
			}
			result.Err = err
			return result
		}
		result.ModelUsed = provider

		// Any CJK output is unusable on the marketplace. Reprompt with
		// an explicit language instruction instead of generic feedback.
		if ContainsCJK(text) {
			languageFailure = true
			lastText, lastIssues = "", []string{"output contained non-English (CJK) text"}
			g.logger.Warn("proposal draft rejected by language gate",
				zap.Int64("project_id", p.ID),
				zap.Int("attempt", attempt+1),
			)
			prompt += "\n\nThe previous draft contained non-English text. Regenerate the full proposal in English. Write English from the first word, do not translate."
			continue
		}
		languageFailure = false

		// One compression rewrite before counting the draft as failed
		// on length alone.
		if len(text) > g.validator.MaxLength {
			if compressed, _, err := g.callChain(ctx, g.compressionPrompt(text)); err == nil && !ContainsCJK(compressed) {
				text = compressed
			}
		}

		ok, issues := g.validator.Validate(text, p.Title, p.Description, expectedQuote)
		if ok {
			result.Success = true
			result.ValidationPassed = true
			result.Text = text
			return result
		}

		lastText, lastIssues = text, issues
		g.logger.Warn("proposal draft failed validation",
			zap.Int64("project_id", p.ID),
			zap.Int("attempt", attempt+1),
			zap.Strings("issues", issues),
		)

		if attempt < g.cfg.MaxRetries-1 {
			prompt = withFeedback(prompt, issues)
		}
	}

	result.Issues = lastIssues

	// A draft that only trips content rules can still ship with a
	// warning. A draft that never passed the language gate cannot.
	if g.cfg.AllowFlawedFinal && !languageFailure && lastText != "" {
		result.Success = true
		result.Text = lastText
		return result
	}

	result.Err = fmt.Errorf("proposal failed validation after %d attempts: %s",
		result.Attempts, strings.Join(lastIssues, "; "))
	return result
}

// Fallback renders the deterministic no-network template. Callers must
// mark the draft as a fallback so the bid gate blocks auto-submission.
func (g *Generator) Fallback(p *freelancer.Project) string {
	title := p.Title
	if title == "" {
		title = "this project"
	}

	budget := ""
	if p.BudgetMax > 0 {
		budget = fmt.Sprintf(" The stated budget range up to %.0f %s works for the scope as described, and I will confirm the final quote once we align on details.", p.BudgetMax, p.CurrencyCode)
	}

	return fmt.Sprintf(
		"I read through your brief for %s and the requirements are clear enough to start shaping a concrete plan. Projects like this usually succeed or fail on how early the edge cases get surfaced, so my first step is always a short requirements pass with you before any code is written.\n\n"+
			"My technical approach is to break the work into small verifiable milestones, deliver the riskiest part first, and keep you updated with working increments rather than status reports. I have delivered similar scopes end to end, including testing, deployment notes, and handover documentation.%s\n\n"+
			"If this direction sounds right, the next step is a quick conversation about acceptance criteria and timelines. What part of %s matters most to get right in the first delivery?",
		title, budget, title)
}

func (g *Generator) callChain(ctx context.Context, prompt string) (string, string, error) {
	var lastErr error
	for _, provider := range g.providers {
		text, err := provider.GenerateContent(ctx, prompt)
		if err != nil {
			g.logger.Warn("proposal provider failed, falling through",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = fmt.Errorf("provider %s returned empty content", provider.Name())
			continue
		}
		return strings.TrimSpace(text), provider.Name(), nil
	}

	if lastErr != nil {
		return "", "", fmt.Errorf("%w: %v", errAllGeneratorsFailed, lastErr)
	}
	return "", "", errAllGeneratorsFailed
}

func (g *Generator) buildPrompt(p *freelancer.Project, expectedQuote float64) string {
	var b strings.Builder

	b.WriteString(basePrompt)

	archetype := DetectArchetype(p.Title, p.Description)
	b.WriteString("\n\nPersona: ")
	b.WriteString(PersonaHint(archetype))

	b.WriteString("\n\nProject:\n")
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	if p.BudgetMin > 0 || p.BudgetMax > 0 {
		fmt.Fprintf(&b, "Budget: %.0f-%.0f %s\n", p.BudgetMin, p.BudgetMax, p.CurrencyCode)
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	fmt.Fprintf(&b, "Current bids: %d\n", p.BidCount)
	if expectedQuote > 0 {
		fmt.Fprintf(&b, "Your bid amount: %.2f %s\n", expectedQuote, p.CurrencyCode)
	}
	if desc := p.Text(); desc != "" {
		b.WriteString("\nDescription:\n")
		b.WriteString(utils.TruncateForLog(desc, 2000))
	}

	fmt.Fprintf(&b, "\n\nLength: between %d and %d characters.", g.validator.MinLength, g.validator.MaxLength)

	return b.String()
}

func (g *Generator) compressionPrompt(text string) string {
	return fmt.Sprintf(
		"Rewrite the proposal below so it fits in %d characters. Keep the three-paragraph structure, the project-specific details, and the budget statement. Cut filler, not substance. Output only the rewritten proposal.\n\n%s",
		g.validator.MaxLength, text)
}

func withFeedback(prompt string, issues []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nThe previous draft failed review. Fix these issues and regenerate:\n")
	for _, issue := range issues {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
	return b.String()
}
