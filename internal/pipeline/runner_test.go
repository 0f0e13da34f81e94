package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/antonk9218/fl-bidder/internal/bidgate"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/orchestra"
	"github.com/antonk9218/fl-bidder/internal/proposal"
	"github.com/antonk9218/fl-bidder/internal/scoring"
	"github.com/antonk9218/fl-bidder/internal/storage"

	"go.uber.org/zap"
)

type stubMarket struct {
	projects []*freelancer.Project
	err      error
}

func (m *stubMarket) SearchProjects(params *freelancer.SearchParams) (*freelancer.Projects, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &freelancer.Projects{Items: m.projects}, nil
}

type stubStore struct {
	upserts    []int64
	scores     map[int64]float64
	drafts     map[int64]string
	fallbacks  map[int64]bool
	taken      map[int64]bool
	candidates []*freelancer.Project
}

func newStubStore() *stubStore {
	return &stubStore{
		scores:    make(map[int64]float64),
		drafts:    make(map[int64]string),
		fallbacks: make(map[int64]bool),
		taken:     make(map[int64]bool),
	}
}

func (s *stubStore) UpsertProject(p *freelancer.Project) error {
	s.upserts = append(s.upserts, p.ID)
	return nil
}

func (s *stubStore) SaveScore(p *freelancer.Project) error {
	s.scores[p.ID] = p.AIScore
	return nil
}

func (s *stubStore) UpdateProjectDraft(id int64, draft string, fallback bool) error {
	s.drafts[id] = draft
	s.fallbacks[id] = fallback
	return nil
}

func (s *stubStore) ActiveBidForProject(projectID int64) (*storage.Bid, error) {
	if s.taken[projectID] {
		return &storage.Bid{ProjectID: projectID, Status: storage.BidStatusActive}, nil
	}
	return nil, nil
}

func (s *stubStore) Candidates(minScore float64, limit int) ([]*freelancer.Project, error) {
	return s.candidates, nil
}

// stubRefiner assigns scores from a fixed table, as the orchestrator
// would after its LLM pass.
type stubRefiner struct {
	scores map[int64]float64
}

func (r *stubRefiner) ScoreBatch(ctx context.Context, projects []*freelancer.Project) orchestra.Summary {
	summary := orchestra.Summary{}
	for _, p := range projects {
		score, ok := r.scores[p.ID]
		if !ok {
			summary.Errors++
			continue
		}
		p.AIScore = score
		summary.Scored++
		if score > summary.TopScore {
			summary.TopScore = score
			summary.TopID = p.ID
		}
	}
	return summary
}

type stubDrafter struct {
	text      string
	fail      bool
	generated []int64
}

func (d *stubDrafter) Generate(ctx context.Context, p *freelancer.Project, expectedQuote float64) *proposal.GenResult {
	d.generated = append(d.generated, p.ID)
	if d.fail {
		return &proposal.GenResult{Success: false, Err: errors.New("all generators failed")}
	}
	return &proposal.GenResult{Success: true, Text: d.text, ValidationPassed: true, Attempts: 1}
}

func (d *stubDrafter) Fallback(p *freelancer.Project) string {
	return "fallback draft for " + p.Title
}

type stubSubmitter struct {
	rejectIDs map[int64]bool
	submitted []int64
}

func (s *stubSubmitter) Submit(ctx context.Context, req bidgate.Request) (*bidgate.Receipt, error) {
	if s.rejectIDs[req.ProjectID] {
		return nil, &bidgate.RejectionError{Reason: "rejected by stub"}
	}
	s.submitted = append(s.submitted, req.ProjectID)
	return &bidgate.Receipt{BidID: req.ProjectID * 10, Amount: 200, Period: 7, Status: "bid_submitted"}, nil
}

type usdPassthrough struct{}

func (usdPassthrough) ToUSD(amount float64, code string) (float64, bool) {
	if code != "USD" {
		return 0, false
	}
	return amount, true
}

func (usdPassthrough) ToNative(usdAmount float64, code string) (float64, bool) {
	if code != "USD" {
		return 0, false
	}
	return usdAmount, true
}

func fixedProject(id int64, status string) *freelancer.Project {
	return &freelancer.Project{
		ID:           id,
		Title:        "Build a scraping workflow",
		Description:  "Scrape listings with pagination and export to CSV.",
		Status:       status,
		Type:         "fixed",
		CurrencyCode: "USD",
		BudgetMin:    100,
		BudgetMax:    300,
		BidCount:     10,
	}
}

func newTestRunner(cfg Config, market *stubMarket, store *stubStore, ref refiner, d drafter, sub submitter) *Runner {
	baseline := scoring.New(scoring.DefaultConfig(), usdPassthrough{}, zap.NewNop())
	return New(cfg, market, store, baseline, ref, d, sub, usdPassthrough{}, zap.NewNop())
}

func TestRunFullPass(t *testing.T) {
	good := fixedProject(1, "active")
	closed := fixedProject(2, "closed")
	weak := fixedProject(3, "active")

	market := &stubMarket{projects: []*freelancer.Project{good, closed, weak}}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 8.0, 3: 4.0}}
	drafter := &stubDrafter{text: "a generated proposal"}
	submitter := &stubSubmitter{}

	cfg := DefaultConfig()
	cfg.AutoBid = true

	report, err := newTestRunner(cfg, market, store, refiner, drafter, submitter).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Found != 3 || report.Filtered != 2 || report.Scored != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Drafted != 1 || report.Submitted != 1 || report.Rejected != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(store.upserts) != 3 {
		t.Fatalf("upserts = %v, every discovered project must be stored", store.upserts)
	}
	if store.drafts[1] != "a generated proposal" || store.fallbacks[1] {
		t.Fatalf("draft for project 1 = %q (fallback=%v)", store.drafts[1], store.fallbacks[1])
	}
	if len(submitter.submitted) != 1 || submitter.submitted[0] != 1 {
		t.Fatalf("submitted = %v, want only project 1", submitter.submitted)
	}
}

func TestRunScoreOnly(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active")}}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 8.0}}
	drafter := &stubDrafter{text: "unused"}

	report, err := newTestRunner(DefaultConfig(), market, store, refiner, drafter, nil).Run(context.Background(), RunOptions{ScoreOnly: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Scored != 1 || report.Drafted != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(drafter.generated) != 0 {
		t.Fatal("score-only pass must not draft proposals")
	}
}

func TestRunBaselineWithoutRefiner(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active")}}
	store := newStubStore()

	cfg := DefaultConfig()
	report, err := newTestRunner(cfg, market, store, nil, &stubDrafter{}, nil).Run(context.Background(), RunOptions{ScoreOnly: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Scored != 1 {
		t.Fatalf("report = %+v", report)
	}
	if score, ok := store.scores[1]; !ok || score <= 0 || score > 10 {
		t.Fatalf("baseline score = %v, want within (0,10]", score)
	}
}

func TestRunApprovalDeclined(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active")}}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 8.0}}
	submitter := &stubSubmitter{}

	cfg := DefaultConfig()
	cfg.AutoBid = true

	declined := func(candidates *freelancer.Projects) (bool, error) { return false, nil }
	report, err := newTestRunner(cfg, market, store, refiner, &stubDrafter{text: "draft"}, submitter).Run(context.Background(), RunOptions{Approve: declined})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Submitted != 0 || len(submitter.submitted) != 0 {
		t.Fatal("declined approval must block every submission")
	}
}

func TestRunApprovalPrunesCandidates(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active"), fixedProject(2, "active")}}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 9.0, 2: 8.0}}
	submitter := &stubSubmitter{}

	cfg := DefaultConfig()
	cfg.AutoBid = true

	pruned := func(candidates *freelancer.Projects) (bool, error) {
		candidates.Exclude([]int64{1})
		return true, nil
	}
	report, err := newTestRunner(cfg, market, store, refiner, &stubDrafter{text: "draft"}, submitter).Run(context.Background(), RunOptions{Approve: pruned})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Submitted != 1 || len(submitter.submitted) != 1 || submitter.submitted[0] != 2 {
		t.Fatalf("submitted = %v, skipped project must not be bid on", submitter.submitted)
	}
}

func TestRunFallbackDraftOnGenerationFailure(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active")}}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 8.0}}

	report, err := newTestRunner(DefaultConfig(), market, store, refiner, &stubDrafter{fail: true}, nil).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Drafted != 0 {
		t.Fatalf("report = %+v, fallback drafts do not count as drafted", report)
	}
	if !store.fallbacks[1] || store.drafts[1] == "" {
		t.Fatal("fallback draft was not persisted")
	}
}

func TestRunRespectsBidLimit(t *testing.T) {
	projects := []*freelancer.Project{fixedProject(1, "active"), fixedProject(2, "active"), fixedProject(3, "active")}
	market := &stubMarket{projects: projects}
	store := newStubStore()
	refiner := &stubRefiner{scores: map[int64]float64{1: 9.0, 2: 8.0, 3: 7.0}}
	submitter := &stubSubmitter{}

	cfg := DefaultConfig()
	cfg.AutoBid = true
	cfg.MaxBids = 1

	report, err := newTestRunner(cfg, market, store, refiner, &stubDrafter{text: "draft"}, submitter).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Submitted != 1 || len(submitter.submitted) != 1 {
		t.Fatalf("submitted = %v, want exactly one", submitter.submitted)
	}
}

func TestRunMergesStoredCandidates(t *testing.T) {
	fresh := fixedProject(1, "active")
	market := &stubMarket{projects: []*freelancer.Project{fresh}}

	stored := fixedProject(9, "active")
	stored.AIScore = 8.5
	stored.ProposalDraft = "draft from an earlier pass"

	store := newStubStore()
	store.candidates = []*freelancer.Project{stored}
	refiner := &stubRefiner{scores: map[int64]float64{1: 8.0}}
	submitter := &stubSubmitter{}

	cfg := DefaultConfig()
	cfg.AutoBid = true

	report, err := newTestRunner(cfg, market, store, refiner, &stubDrafter{text: "draft"}, submitter).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Submitted != 2 {
		t.Fatalf("report = %+v, stored candidate must be bid on too", report)
	}
	if len(submitter.submitted) != 2 || submitter.submitted[0] != 1 || submitter.submitted[1] != 9 {
		t.Fatalf("submitted = %v, want projects 1 and 9", submitter.submitted)
	}
}

func TestRunSkipsProjectsWithExistingBids(t *testing.T) {
	market := &stubMarket{projects: []*freelancer.Project{fixedProject(1, "active")}}
	store := newStubStore()
	store.taken[1] = true
	refiner := &stubRefiner{scores: map[int64]float64{1: 9.0}}

	report, err := newTestRunner(DefaultConfig(), market, store, refiner, &stubDrafter{}, nil).Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Filtered != 0 {
		t.Fatalf("report = %+v, taken project must be filtered out", report)
	}
}
