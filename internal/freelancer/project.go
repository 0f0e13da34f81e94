package freelancer

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// Biddable statuses as reported by the marketplace.
var biddableStatuses = map[string]bool{
	"active": true,
	"open":   true,
}

// Projects is a mutable list of projects moving through the pipeline.
type Projects struct {
	Items []*Project
}

// Project is the central pipeline entity. The AI* and Suggested* fields are
// filled in by the scoring and proposal stages and persisted between runs.
type Project struct {
	ID                 int64     `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	PreviewDescription string    `json:"preview_description,omitempty"`
	Status             string    `json:"status"`
	SubStatus          string    `json:"sub_status,omitempty"`
	Type               string    `json:"type"` // "fixed" or "hourly"
	CurrencyCode       string    `json:"currency_code"`
	BudgetMin          float64   `json:"budget_minimum"`
	BudgetMax          float64   `json:"budget_maximum"` // 0 when the range is open-ended
	BidCount           int       `json:"bid_count"`
	AvgBid             float64   `json:"bid_avg,omitempty"`
	SubmitDate         time.Time `json:"submitdate"`
	Skills             []string  `json:"skills,omitempty"`
	Owner              *Owner    `json:"owner,omitempty"`
	ClientRiskScore    *float64  `json:"client_risk_score,omitempty"`

	AIScore        float64 `json:"ai_score,omitempty"`
	AIReason       string  `json:"ai_reason,omitempty"`
	ProposalDraft  string  `json:"ai_proposal_draft,omitempty"`
	DraftFallback  bool    `json:"draft_fallback,omitempty"`
	SuggestedBid   float64 `json:"suggested_bid,omitempty"` // always USD
	EstimatedHours float64 `json:"estimated_hours,omitempty"`
	HourlyRate     float64 `json:"hourly_rate,omitempty"` // always USD
}

// Owner carries the client trust signals the scorer reads.
type Owner struct {
	PaymentVerified bool    `json:"payment_verified"`
	EmailVerified   bool    `json:"email_verified"`
	JobsPosted      int     `json:"jobs_posted"`
	JobsHired       int     `json:"jobs_hired"`
	Rating          float64 `json:"rating"`
	Online          bool    `json:"online"`
}

// HireRate returns the fraction of posted jobs that led to a hire.
func (o *Owner) HireRate() float64 {
	if o == nil || o.JobsPosted == 0 {
		return 0
	}
	return float64(o.JobsHired) / float64(o.JobsPosted)
}

// AvgBudget returns the midpoint of the budget range, or the minimum when
// the range is open-ended.
func (p *Project) AvgBudget() float64 {
	if p.BudgetMax > 0 {
		return (p.BudgetMin + p.BudgetMax) / 2
	}
	return p.BudgetMin
}

// Hourly reports whether the project pays by the hour.
func (p *Project) Hourly() bool {
	return p.Type == "hourly"
}

// Biddable reports whether the marketplace status allows new bids.
func (p *Project) Biddable() bool {
	return biddableStatuses[strings.ToLower(strings.TrimSpace(p.Status))]
}

// Text returns the full searchable text of the project.
func (p *Project) Text() string {
	desc := p.Description
	if desc == "" {
		desc = p.PreviewDescription
	}
	return p.Title + " " + desc
}

func (p *Projects) Len() int {
	return len(p.Items)
}

func (p *Projects) FindByID(id int64) *Project {
	for _, project := range p.Items {
		if project.ID == id {
			return project
		}
	}
	return nil
}

// Exclude removes projects from the list by id. Do not preserve order.
func (p *Projects) Exclude(ids []int64) []int64 {
	var excluded []int64
	for _, id := range ids {
		for idx, project := range p.Items {
			if project.ID == id {
				p.RemoveByIndex(idx)
				excluded = append(excluded, id)
				break
			}
		}
	}
	return excluded
}

// RemoveByIndex removes a project from the list by index. Do not preserve order.
func (p *Projects) RemoveByIndex(idx int) {
	p.Items[idx] = p.Items[len(p.Items)-1]
	p.Items = p.Items[:len(p.Items)-1]
}

func (p *Projects) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "projects_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return file.Name(), nil
}

// projectPayload is the raw API shape; toProject flattens it into the
// pipeline entity.
type projectPayload struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	PreviewDescription string `json:"preview_description"`
	Status             string `json:"status"`
	SubStatus          string `json:"sub_status"`
	Type               string `json:"type"`
	Currency           struct {
		Code string `json:"code"`
	} `json:"currency"`
	Budget struct {
		Minimum float64 `json:"minimum"`
		Maximum float64 `json:"maximum"`
	} `json:"budget"`
	BidStats struct {
		BidCount int     `json:"bid_count"`
		BidAvg   float64 `json:"bid_avg"`
	} `json:"bid_stats"`
	Submitdate int64 `json:"submitdate"`
	Jobs       []struct {
		Name string `json:"name"`
	} `json:"jobs"`
	OwnerInfo *struct {
		Status struct {
			PaymentVerified bool `json:"payment_verified"`
			EmailVerified   bool `json:"email_verified"`
		} `json:"status"`
		EmployerReputation struct {
			EntireHistory struct {
				Complete int     `json:"complete"`
				Total    int     `json:"total"`
				Overall  float64 `json:"overall"`
			} `json:"entire_history"`
		} `json:"employer_reputation"`
		Online bool `json:"online"`
	} `json:"owner_info"`
}

func (pp *projectPayload) toProject() *Project {
	p := &Project{
		ID:                 pp.ID,
		Title:              pp.Title,
		Description:        pp.Description,
		PreviewDescription: pp.PreviewDescription,
		Status:             pp.Status,
		SubStatus:          pp.SubStatus,
		Type:               pp.Type,
		CurrencyCode:       pp.Currency.Code,
		BudgetMin:          pp.Budget.Minimum,
		BudgetMax:          pp.Budget.Maximum,
		BidCount:           pp.BidStats.BidCount,
		AvgBid:             pp.BidStats.BidAvg,
	}

	// Some endpoints report milliseconds instead of seconds.
	if pp.Submitdate > 0 {
		ts := pp.Submitdate
		if ts > 1e12 {
			ts /= 1000
		}
		p.SubmitDate = time.Unix(ts, 0).UTC()
	}

	for _, job := range pp.Jobs {
		if name := strings.TrimSpace(job.Name); name != "" {
			p.Skills = append(p.Skills, name)
		}
	}

	if pp.OwnerInfo != nil {
		reputation := pp.OwnerInfo.EmployerReputation.EntireHistory
		p.Owner = &Owner{
			PaymentVerified: pp.OwnerInfo.Status.PaymentVerified,
			EmailVerified:   pp.OwnerInfo.Status.EmailVerified,
			JobsPosted:      reputation.Total,
			JobsHired:       reputation.Complete,
			Rating:          reputation.Overall,
			Online:          pp.OwnerInfo.Online,
		}
	}

	return p
}
