// Package analysis contains clients for the external scoring boundary.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// scoreFields is the fixed priority order for picking the risk score out of
// a response. The service has evolved its field naming before; the first
// numeric field wins and a missing score defaults to 0.
var scoreFields = []string{"final_risk", "risk_score", "score"}

// RemoteClient calls the remote scoring service over HTTP.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// analyzeRequest is the wire shape of the /analyze call.
type analyzeRequest struct {
	EmailText   string   `json:"email_text"`
	EmailHeader *string  `json:"email_header"`
	URL         *string  `json:"url"`
	URLs        []string `json:"urls,omitempty"`
	SenderEmail *string  `json:"sender_email"`
	PrivateMode bool     `json:"private_mode"`
}

// NewRemoteClient creates a client for the scoring service at baseURL.
func NewRemoteClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	return &RemoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Analyze sends one structured scoring request. Non-2xx statuses and
// transport failures are returned as errors; the caller applies fallback.
func (c *RemoteClient) Analyze(ctx context.Context, req core.AnalysisRequest) (*core.Verdict, error) {
	wire := analyzeRequest{
		EmailText:   req.Content,
		PrivateMode: req.PrivateMode,
	}
	if req.Header != "" {
		wire.EmailHeader = &req.Header
	}
	if req.Sender != "" {
		wire.SenderEmail = &req.Sender
	}
	if len(req.URLs) > 0 {
		wire.URL = &req.URLs[0]
		wire.URLs = req.URLs
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analyze response: %w", err)
	}

	c.logger.Debug("analysis completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_bytes", len(raw)))

	verdict := NormalizeVerdict(raw)
	verdict.Provider = "remote"
	return verdict, nil
}

// NormalizeVerdict maps a raw service response onto a Verdict. Field naming
// is treated as untrusted: the score is the first numeric field in the fixed
// priority order, and every descriptive field is optional.
func NormalizeVerdict(raw []byte) *core.Verdict {
	doc := gjson.ParseBytes(raw)

	score := 0
	for _, field := range scoreFields {
		if v := doc.Get(field); v.Type == gjson.Number {
			score = int(v.Float() + 0.5)
			break
		}
	}

	reasoning := doc.Get("reasoning_summary").String()
	if reasoning == "" {
		reasoning = doc.Get("verdict").String()
	}

	verdict := &core.Verdict{
		Level:      core.LevelForScore(score),
		Score:      score,
		Reasoning:  reasoning,
		Confidence: doc.Get("confidence_level").String(),
		Category:   doc.Get("threat_category").String(),
		AnalyzedAt: time.Now(),
	}

	if urlScore := doc.Get("breakdown.url_score"); urlScore.Type == gjson.Number {
		f := urlScore.Float()
		verdict.URLScore = &f
	}
	if breakdown := doc.Get("breakdown"); breakdown.IsObject() {
		verdict.Breakdown = make(map[string]float64)
		breakdown.ForEach(func(k, v gjson.Result) bool {
			if v.Type == gjson.Number {
				verdict.Breakdown[k.String()] = v.Float()
			}
			return true
		})
	}

	return verdict
}
