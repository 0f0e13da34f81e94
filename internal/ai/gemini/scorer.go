package gemini

import (
	"context"
	"unicode/utf8"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/utils"

	"go.uber.org/zap"
)

type contentGenerator interface {
	Name() string
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Scorer adapts a Gemini generator to the provider-neutral scoring interface.
type Scorer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

const defaultMaxLogLength = 200

func NewScorer(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Scorer{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func (s *Scorer) Name() string {
	return s.generator.Name()
}

// Score sends the system prompt and payload as a single prompt and parses
// the structured response.
func (s *Scorer) Score(ctx context.Context, system, payload string) (*ai.ScoreResult, error) {
	prompt := system + "\n\n" + payload

	s.logger.Debug("gemini scoring request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gemini scoring response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	result, err := ai.ParseScoreResult(raw)
	if err != nil {
		return nil, err
	}

	result.Provider = s.Name()
	return result, nil
}
