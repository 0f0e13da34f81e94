package freelancer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://www.freelancer.com/api"
	userAgent = "fl-bidder"
)

// Client talks to the Freelancer.com REST API.
type Client struct {
	// ctx used only for http requests right now
	ctx        context.Context
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(ctx context.Context, logger *zap.Logger, token string) *Client {
	return &Client{
		ctx:    ctx,
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// GetProject fetches the live project record, including its current status
// and submit date. Used by the bid gate for remote re-validation.
func (c *Client) GetProject(id int64) (*Project, error) {
	var envelope struct {
		Result projectPayload `json:"result"`
	}

	endpoint := fmt.Sprintf("%s/projects/0.1/projects/%d/", c.APIURL, id)
	q := url.Values{}
	q.Set("full_description", "true")

	if err := c.getJSON(endpoint, q, &envelope); err != nil {
		return nil, err
	}

	return envelope.Result.toProject(), nil
}

// SearchProjects returns active projects matching the query.
func (c *Client) SearchProjects(params *SearchParams) (*Projects, error) {
	var envelope struct {
		Result struct {
			Projects []projectPayload `json:"projects"`
		} `json:"result"`
	}

	endpoint := fmt.Sprintf("%s/projects/0.1/projects/active/", c.APIURL)
	q := url.Values{}
	if params != nil {
		if params.Query != "" {
			q.Set("query", params.Query)
		}
		if params.Limit > 0 {
			q.Set("limit", strconv.Itoa(params.Limit))
		}
		for _, job := range params.Jobs {
			q.Add("jobs[]", job)
		}
	}
	q.Set("full_description", "true")

	if err := c.getJSON(endpoint, q, &envelope); err != nil {
		return nil, err
	}

	projects := &Projects{}
	for _, payload := range envelope.Result.Projects {
		projects.Items = append(projects.Items, payload.toProject())
	}

	return projects, nil
}

// SearchParams narrows the active-projects search.
type SearchParams struct {
	Query string   `mapstructure:"query"`
	Jobs  []string `mapstructure:"jobs"`
	Limit int      `mapstructure:"limit"`
}
