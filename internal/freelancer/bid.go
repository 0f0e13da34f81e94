package freelancer

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrNoBidID signals that the marketplace accepted the bid but none of the
// known response shapes contained a bid id. The caller must not fabricate a
// local bid row in that case.
var ErrNoBidID = errors.New("bid accepted but no bid id in response")

// BidReceipt is the externally issued identity of a submitted bid.
type BidReceipt struct {
	BidID    int64
	BidderID int64
}

type bidRequest struct {
	ProjectID   int64   `json:"project_id"`
	BidderID    int64   `json:"bidder_id,omitempty"`
	Amount      float64 `json:"amount"`
	Period      int     `json:"period"`
	Description string  `json:"description"`
}

// CreateBid submits a bid and returns the extracted receipt. The amount is
// in the project's native currency.
func (c *Client) CreateBid(projectID int64, amount float64, period int, description string) (*BidReceipt, error) {
	endpoint := fmt.Sprintf("%s/projects/0.1/bids/", c.APIURL)

	payload := bidRequest{
		ProjectID:   projectID,
		Amount:      amount,
		Period:      period,
		Description: description,
	}

	var raw map[string]interface{}
	if err := c.postJSON(endpoint, payload, &raw); err != nil {
		return nil, err
	}

	return ExtractBidReceipt(raw)
}

// bidResponse mirrors the parts of a bid-creation response we care about.
// The external API has shipped several envelope shapes over time: the same
// fields recur at each level and ids arrive as scalars or as nested
// {"id": ...} objects, so everything id-like stays untyped here.
type bidResponse struct {
	ID       interface{}  `json:"id"`
	BidID    interface{}  `json:"bid_id"`
	BidderID interface{}  `json:"bidder_id"`
	Result   *bidResponse `json:"result"`
	Bid      *bidResponse `json:"bid"`
}

// ExtractBidReceipt pulls the bid id and bidder id out of a bid-creation
// response, trying every known path before giving up.
func ExtractBidReceipt(payload map[string]interface{}) (*BidReceipt, error) {
	if payload == nil {
		return nil, ErrNoBidID
	}

	var response bidResponse
	cfg := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &response,
		TagName:  "json",
	}
	decoder, _ := mapstructure.NewDecoder(cfg)
	if err := decoder.Decode(payload); err != nil {
		return nil, fmt.Errorf("decoding bid response: %w", err)
	}

	receipt := &BidReceipt{}
	for _, candidate := range []*bidResponse{&response, response.Result, response.Bid} {
		if candidate == nil {
			continue
		}
		if receipt.BidID == 0 {
			receipt.BidID = asID(candidate.ID)
		}
		if receipt.BidID == 0 {
			receipt.BidID = asID(candidate.BidID)
		}
		if receipt.BidderID == 0 {
			receipt.BidderID = asID(candidate.BidderID)
		}
	}

	if receipt.BidID == 0 {
		return nil, ErrNoBidID
	}

	return receipt, nil
}

// asID accepts both the scalar and the nested {"id": ...} encodings.
func asID(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case map[string]interface{}:
		return asID(val["id"])
	default:
		return 0
	}
}
