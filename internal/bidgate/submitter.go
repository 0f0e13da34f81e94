// Package bidgate is the final arbiter in front of the marketplace: it
// enforces idempotency, re-validates the live project, resolves and
// sanity-checks the amount, and leaves an audit trail for every attempt.
package bidgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antonk9218/fl-bidder/internal/currency"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/proposal"
	"github.com/antonk9218/fl-bidder/internal/storage"

	"go.uber.org/zap"
)

// Absolute amount bounds in USD. Bids outside are always rejected.
const (
	minAmountUSD = 5
	maxAmountUSD = 50000
)

// RejectionError is a bid blocked before or after the network call.
// Reason is human-readable; Status is the project marker set, if any.
type RejectionError struct {
	Reason string
	Status string
}

func (e *RejectionError) Error() string {
	return "bid rejected: " + e.Reason
}

type marketplace interface {
	GetProject(id int64) (*freelancer.Project, error)
	CreateBid(projectID int64, amount float64, period int, description string) (*freelancer.BidReceipt, error)
}

type gateStore interface {
	GetProject(id int64) (*freelancer.Project, error)
	ActiveBidForProject(projectID int64) (*storage.Bid, error)
	SaveBid(b storage.Bid) error
	AppendAudit(a storage.AuditRecord) error
	SetProjectStatus(id int64, status string) error
	SyncProjectRemote(id int64, status, subStatus string, submitDate time.Time) error
	UpdateProjectDraft(id int64, draft string, fallback bool) error
}

type converter interface {
	ToUSD(amount float64, code string) (float64, bool)
	ToNative(usdAmount float64, code string) (float64, bool)
}

type drafter interface {
	Generate(ctx context.Context, p *freelancer.Project, expectedQuote float64) *proposal.GenResult
}

// Config tunes the gate.
type Config struct {
	// ValidateRemote re-checks the live project before submitting. A
	// fetch failure blocks the bid (fail closed).
	ValidateRemote bool `mapstructure:"validate-remote"`
	DefaultPeriod  int  `mapstructure:"default-period"` // days
}

func DefaultConfig() Config {
	return Config{ValidateRemote: true, DefaultPeriod: 7}
}

// Request is one submission attempt. Zero Amount and Period are filled
// from the project record.
type Request struct {
	ProjectID   int64
	Amount      float64 // native currency
	Period      int     // days
	Description string
}

// Receipt reports a bid the marketplace accepted.
type Receipt struct {
	BidID    int64
	BidderID int64
	Amount   float64 // native currency
	Period   int
	Status   string // "bid_submitted" or "submitted_remote_only"
}

// Submitter runs the full gated submission sequence.
type Submitter struct {
	cfg     Config
	market  marketplace
	store   gateStore
	conv    converter
	drafter drafter
	checker *proposal.Validator
	logger  *zap.Logger
}

// New wires a submitter. drafter may be nil to disable last-resort
// proposal generation.
func New(cfg Config, market marketplace, store gateStore, conv converter, drafter drafter, logger *zap.Logger) *Submitter {
	if cfg.DefaultPeriod <= 0 {
		cfg.DefaultPeriod = 7
	}

	return &Submitter{
		cfg:     cfg,
		market:  market,
		store:   store,
		conv:    conv,
		drafter: drafter,
		// Content risk bounds are looser than draft validation: the gate
		// only blocks on text that is clearly unusable.
		checker: proposal.NewValidator(100, 3000),
		logger:  logger,
	}
}

// Submit runs the gate for one project. Every attempt, accepted or not,
// leaves at least one audit row.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Receipt, error) {
	p, err := s.store.GetProject(req.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, s.reject(req.ProjectID, "project not found in local store, sync first", "")
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %d: %w", req.ProjectID, err)
	}

	// A terminal marker blocks resubmission even without a local bid
	// row, which is how submitted_remote_only projects are recorded.
	if storage.TerminalProjectStatus(p.Status) {
		return nil, s.reject(p.ID,
			fmt.Sprintf("project status %q is terminal, not submitting again", p.Status), "")
	}

	// Idempotency runs before any network call.
	if existing, err := s.store.ActiveBidForProject(p.ID); err != nil {
		return nil, fmt.Errorf("checking existing bids for %d: %w", p.ID, err)
	} else if existing != nil {
		return nil, s.reject(p.ID,
			fmt.Sprintf("project already has a bid in status %q", existing.Status), "")
	}

	if s.cfg.ValidateRemote {
		if err := s.revalidate(p); err != nil {
			return nil, err
		}
	}

	amount, err := s.resolveAmount(p, req.Amount)
	if err != nil {
		return nil, err
	}

	period := req.Period
	if period <= 0 {
		period = defaultPeriod(p.EstimatedHours, s.cfg.DefaultPeriod)
	}

	description, err := s.resolveDescription(ctx, p, req.Description, amount)
	if err != nil {
		return nil, err
	}
	description = proposal.AlignWithAmount(description, amount, p.CurrencyCode)

	// Content risk is advisory at this point: the draft already passed
	// generation-time validation, so a failure here is only audited.
	if ok, issues := s.checker.Validate(description, p.Title, p.Description, amount); !ok {
		s.logger.Warn("bid description flagged by content risk check",
			zap.Int64("project_id", p.ID),
			zap.Strings("issues", issues),
		)
		s.audit(p.ID, "content_risk_check", "warning",
			fmt.Sprintf(`{"description_length":%d}`, len(description)),
			marshalJSON(map[string]any{"issues": issues}),
		)
	}

	return s.submit(p, amount, period, description)
}

// revalidate fetches the live project and fails closed on any doubt.
func (s *Submitter) revalidate(p *freelancer.Project) error {
	live, err := s.market.GetProject(p.ID)
	if err != nil {
		var apiErr *freelancer.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return s.reject(p.ID, "project no longer exists on the marketplace", "not_found")
		}

		s.audit(p.ID, "remote_validation", "error", "", marshalJSON(map[string]any{"error": err.Error()}))
		return s.reject(p.ID, "unable to verify remote project status: "+err.Error(), "")
	}

	if err := s.store.SyncProjectRemote(p.ID, live.Status, live.SubStatus, live.SubmitDate); err != nil {
		return fmt.Errorf("syncing remote state for %d: %w", p.ID, err)
	}

	if !live.Biddable() {
		return s.reject(p.ID,
			fmt.Sprintf("remote status %q is not biddable", live.Status), "not_biddable")
	}

	return nil
}

// resolveAmount picks the native-currency bid amount: the caller's
// amount, else the stored USD suggestion converted to native, else a
// budget-derived default. The result must clear the absolute USD range
// and the project's own budget band.
func (s *Submitter) resolveAmount(p *freelancer.Project, requested float64) (float64, error) {
	amount := requested
	code := currency.NormalizeCode(p.CurrencyCode)

	// Callers pass the stored suggestion through verbatim. That figure
	// is USD, so treat it like an unsupplied amount and let it run
	// through the same conversion.
	if requested > 0 && requested == p.SuggestedBid {
		amount = 0
	}

	if amount <= 0 {
		switch {
		case p.SuggestedBid > 0:
			// suggested_bid is always USD. Convert before comparing to
			// native budgets and beautify the result.
			amount = p.SuggestedBid
			if code != "USD" {
				native, ok := s.conv.ToNative(p.SuggestedBid, code)
				if !ok {
					return 0, s.reject(p.ID, "no exchange rate for "+code, "")
				}
				amount = currency.Beautify(native)
			}
		case p.BudgetMin > 0 && p.BudgetMax > 0:
			amount = p.BudgetMin + (p.BudgetMax-p.BudgetMin)*0.55
		case p.BudgetMax > 0:
			amount = 0.65 * p.BudgetMax
		case p.BudgetMin > 0:
			amount = 1.2 * p.BudgetMin
		default:
			return 0, s.reject(p.ID, "no amount given and no budget to derive one from", "")
		}
	}

	usd, ok := s.conv.ToUSD(amount, code)
	if !ok {
		return 0, s.reject(p.ID, "cannot convert "+code+" to USD for range validation", "")
	}
	if usd < minAmountUSD || usd > maxAmountUSD {
		return 0, s.reject(p.ID,
			fmt.Sprintf("amount %.2f %s (%.2f USD) is outside the absolute allowed range", amount, code, usd),
			"amount_out_of_range")
	}

	if p.BudgetMin > 0 && amount < p.BudgetMin*0.5 {
		return 0, s.reject(p.ID,
			fmt.Sprintf("amount %.2f is below half the minimum budget %.2f", amount, p.BudgetMin),
			"amount_out_of_range")
	}
	if p.BudgetMax > 0 && amount > p.BudgetMax*1.5 {
		return 0, s.reject(p.ID,
			fmt.Sprintf("amount %.2f exceeds 1.5x the maximum budget %.2f", amount, p.BudgetMax),
			"amount_out_of_range")
	}

	return amount, nil
}

// resolveDescription walks the chain: caller text, stored non-fallback
// draft, synchronous generation. Fallback drafts never auto-submit.
func (s *Submitter) resolveDescription(ctx context.Context, p *freelancer.Project, supplied string, amount float64) (string, error) {
	if text := strings.TrimSpace(supplied); text != "" {
		return text, nil
	}
	if draft := strings.TrimSpace(p.ProposalDraft); draft != "" && !p.DraftFallback {
		return draft, nil
	}

	if s.drafter == nil {
		return "", s.reject(p.ID, "no proposal text available and generation is disabled", "")
	}

	result := s.drafter.Generate(ctx, p, amount)
	if !result.Success || strings.TrimSpace(result.Text) == "" {
		reason := "proposal generation failed"
		if result.Err != nil {
			reason += ": " + result.Err.Error()
		}
		return "", s.reject(p.ID, reason, "")
	}

	if err := s.store.UpdateProjectDraft(p.ID, result.Text, false); err != nil {
		s.logger.Warn("could not persist generated draft", zap.Int64("project_id", p.ID), zap.Error(err))
	}
	return result.Text, nil
}

func (s *Submitter) submit(p *freelancer.Project, amount float64, period int, description string) (*Receipt, error) {
	request := marshalJSON(map[string]any{"amount": amount, "period": period, "description_length": len(description)})

	receipt, err := s.market.CreateBid(p.ID, amount, period, description)

	// Accepted remotely but no id in the response: record the terminal
	// marker and do not fabricate a local bid row.
	if errors.Is(err, freelancer.ErrNoBidID) {
		s.audit(p.ID, "create_bid", "warning", request, marshalJSON(map[string]any{"error": err.Error()}))
		if err := s.store.SetProjectStatus(p.ID, storage.BidStatusRemoteOnly); err != nil {
			s.logger.Warn("could not mark project submitted_remote_only", zap.Int64("project_id", p.ID), zap.Error(err))
		}
		return &Receipt{Amount: amount, Period: period, Status: storage.BidStatusRemoteOnly}, nil
	}

	if err != nil {
		s.audit(p.ID, "create_bid", "error", request, marshalJSON(map[string]any{"error": err.Error()}))

		var apiErr *freelancer.APIError
		if errors.As(err, &apiErr) {
			if status := statusForAPIError(apiErr); status != "" {
				if markErr := s.store.SetProjectStatus(p.ID, status); markErr != nil {
					s.logger.Warn("could not set project marker", zap.Int64("project_id", p.ID), zap.Error(markErr))
				}
				return nil, &RejectionError{Reason: apiErr.Message, Status: status}
			}
		}
		return nil, fmt.Errorf("submitting bid for %d: %w", p.ID, err)
	}

	bid := storage.Bid{
		BidID:       receipt.BidID,
		BidderID:    receipt.BidderID,
		ProjectID:   p.ID,
		Amount:      amount,
		Period:      period,
		Description: description,
		Status:      storage.BidStatusActive,
	}
	if err := s.store.SaveBid(bid); err != nil {
		return nil, fmt.Errorf("recording bid %d: %w", receipt.BidID, err)
	}
	if err := s.store.SetProjectStatus(p.ID, "bid_submitted"); err != nil {
		s.logger.Warn("could not mark project bid_submitted", zap.Int64("project_id", p.ID), zap.Error(err))
	}

	s.audit(p.ID, "create_bid", "success", request,
		marshalJSON(map[string]any{"bid_id": receipt.BidID, "bidder_id": receipt.BidderID}))

	s.logger.Info("bid submitted",
		zap.Int64("project_id", p.ID),
		zap.Int64("bid_id", receipt.BidID),
		zap.Float64("amount", amount),
		zap.String("currency", p.CurrencyCode),
	)

	return &Receipt{
		BidID:    receipt.BidID,
		BidderID: receipt.BidderID,
		Amount:   amount,
		Period:   period,
		Status:   "bid_submitted",
	}, nil
}

// reject audits the decision, applies the status marker when one is
// given, and returns the typed error.
func (s *Submitter) reject(projectID int64, reason, status string) error {
	s.audit(projectID, "bid_rejected", "warning", "", marshalJSON(map[string]any{"reason": reason}))

	if status != "" {
		if err := s.store.SetProjectStatus(projectID, status); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("could not set project marker",
				zap.Int64("project_id", projectID),
				zap.String("status", status),
				zap.Error(err),
			)
		}
	}

	return &RejectionError{Reason: reason, Status: status}
}

func (s *Submitter) audit(projectID int64, action, status, request, response string) {
	record := storage.AuditRecord{
		Action:     action,
		EntityType: "project",
		EntityID:   fmt.Sprintf("%d", projectID),
		Request:    request,
		Response:   response,
		Status:     status,
	}
	if err := s.store.AppendAudit(record); err != nil {
		s.logger.Warn("could not append audit row", zap.String("action", action), zap.Error(err))
	}
}

// statusForAPIError maps marketplace rejections to the project marker
// that stops the pipeline from retrying a hopeless project.
func statusForAPIError(err *freelancer.APIError) string {
	text := err.Code + " " + err.Message

	switch {
	case strings.Contains(text, "SKILLS_REQUIREMENT_NOT_MET"):
		return "skills_blocked"
	case strings.Contains(text, "UNLISTED_NOT_PREFERRED"):
		return "preferred_only"
	case strings.Contains(text, "ESCROWCOM_ACCOUNT_UNLINKED"):
		return "escrow_required"
	case err.StatusCode == 404:
		return "not_found"
	default:
		return ""
	}
}

// defaultPeriod derives the delivery period from the effort estimate:
// six working hours per day, clamped to what the marketplace accepts.
func defaultPeriod(estimatedHours float64, fallback int) int {
	if estimatedHours <= 0 {
		return fallback
	}

	days := int(math.Round(estimatedHours / 6))
	if days < 2 {
		days = 2
	}
	if days > 30 {
		days = 30
	}
	return days
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
