// internal/integrations/analysis.go
package integrations

import (
	"context"
	"net/http"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

// Analysis wraps the transcription and language-analysis service.
type Analysis struct {
	c *Client
}

func NewAnalysis(c *Client) *Analysis { return &Analysis{c: c} }

func (a *Analysis) Transcribe(ctx context.Context, audioURL string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	in := map[string]string{"audioUrl": audioURL}
	if err := a.c.do(ctx, "transcribe", http.MethodPost, "/transcriptions", in, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (a *Analysis) AnalyzeSentiment(ctx context.Context, text string) (*model.SentimentAnalysis, error) {
	var out model.SentimentAnalysis
	if err := a.c.do(ctx, "analyze sentiment", http.MethodPost, "/sentiment", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Analysis) DetectCompliance(ctx context.Context, text string) (*model.ProtocolCompliance, error) {
	var out model.ProtocolCompliance
	if err := a.c.do(ctx, "detect compliance", http.MethodPost, "/compliance", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *Analysis) Summarize(ctx context.Context, text string, sentiment *model.SentimentAnalysis) (string, error) {
	in := struct {
		Text      string                   `json:"text"`
		Sentiment *model.SentimentAnalysis `json:"sentiment,omitempty"`
	}{text, sentiment}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := a.c.do(ctx, "summarize", http.MethodPost, "/summaries", in, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}
