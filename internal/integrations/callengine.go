// internal/integrations/callengine.go
package integrations

import (
	"context"
	"errors"
	"net/http"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

// CallRequest asks the Call Engine to dial one contact through a flow.
type CallRequest struct {
	PhoneNumber  string         `json:"phoneNumber"`
	CustomerName string         `json:"customerName,omitempty"`
	CampaignID   string         `json:"campaignId"`
	ContactID    string         `json:"contactId"`
	FlowID       string         `json:"flowId"`
	Priority     model.Priority `json:"priority,omitempty"`
}

type CallEngine struct {
	c *Client
}

func NewCallEngine(c *Client) *CallEngine { return &CallEngine{c: c} }

// InitiateCall places the call and returns the engine's call id.
func (e *CallEngine) InitiateCall(ctx context.Context, req CallRequest) (string, error) {
	var out struct {
		CallID string `json:"callId"`
	}
	if err := e.c.do(ctx, "initiate call", http.MethodPost, "/calls", req, &out); err != nil {
		return "", err
	}
	if out.CallID == "" {
		return "", errors.New("initiate call: empty call id")
	}
	return out.CallID, nil
}
