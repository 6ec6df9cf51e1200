package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

func TestNormalizeVerdictScoreFieldPriority(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"final_risk wins", `{"final_risk": 80, "risk_score": 50, "score": 10}`, 80},
		{"risk_score next", `{"risk_score": 50, "score": 10}`, 50},
		{"score last", `{"score": 10}`, 10},
		{"missing defaults to zero", `{"verdict": "ok"}`, 0},
		{"non-numeric skipped", `{"final_risk": "high", "score": 25}`, 25},
		{"float rounds", `{"final_risk": 69.6}`, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NormalizeVerdict([]byte(tt.raw))
			if v.Score != tt.want {
				t.Errorf("Score = %d, want %d", v.Score, tt.want)
			}
		})
	}
}

func TestNormalizeVerdictLevels(t *testing.T) {
	tests := []struct {
		score int
		want  core.RiskLevel
	}{
		{29, core.LevelSafe},
		{30, core.LevelSuspicious},
		{69, core.LevelSuspicious},
		{70, core.LevelMalicious},
	}

	for _, tt := range tests {
		raw, _ := json.Marshal(map[string]int{"final_risk": tt.score})
		v := NormalizeVerdict(raw)
		if v.Level != tt.want {
			t.Errorf("score %d: Level = %q, want %q", tt.score, v.Level, tt.want)
		}
	}
}

func TestNormalizeVerdictDescriptiveFields(t *testing.T) {
	raw := `{
		"final_risk": 88,
		"verdict": "malicious",
		"confidence_level": "high",
		"threat_category": "credential_phishing",
		"reasoning_summary": "spoofed sender domain",
		"breakdown": {"url_score": 91.5, "content_score": 70}
	}`

	v := NormalizeVerdict([]byte(raw))
	if v.Reasoning != "spoofed sender domain" {
		t.Errorf("Reasoning = %q", v.Reasoning)
	}
	if v.Confidence != "high" {
		t.Errorf("Confidence = %q", v.Confidence)
	}
	if v.Category != "credential_phishing" {
		t.Errorf("Category = %q", v.Category)
	}
	if v.URLScore == nil || *v.URLScore != 91.5 {
		t.Errorf("URLScore = %v, want 91.5", v.URLScore)
	}
	if v.Breakdown["content_score"] != 70 {
		t.Errorf("Breakdown = %v", v.Breakdown)
	}
}

func TestNormalizeVerdictReasoningFallsBackToVerdict(t *testing.T) {
	v := NormalizeVerdict([]byte(`{"final_risk": 10, "verdict": "looks fine"}`))
	if v.Reasoning != "looks fine" {
		t.Errorf("Reasoning = %q, want the verdict field", v.Reasoning)
	}
}

func TestRemoteClientAnalyze(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("path = %q, want /analyze", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"final_risk": 75, "reasoning_summary": "bad link"}`))
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 5*time.Second, zap.NewNop())
	v, err := client.Analyze(context.Background(), core.AnalysisRequest{
		Content:     "Urgent invoice",
		Sender:      "billing@example.com",
		URLs:        []string{"https://a.example", "https://b.example"},
		PrivateMode: true,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if got.EmailText != "Urgent invoice" {
		t.Errorf("email_text = %q", got.EmailText)
	}
	if got.SenderEmail == nil || *got.SenderEmail != "billing@example.com" {
		t.Errorf("sender_email = %v", got.SenderEmail)
	}
	if got.URL == nil || *got.URL != "https://a.example" {
		t.Errorf("url = %v", got.URL)
	}
	if len(got.URLs) != 2 {
		t.Errorf("urls = %v", got.URLs)
	}
	if !got.PrivateMode {
		t.Error("private_mode = false, want true")
	}

	if v.Level != core.LevelMalicious || v.Score != 75 {
		t.Errorf("verdict = %+v", v)
	}
	if v.Provider != "remote" {
		t.Errorf("Provider = %q", v.Provider)
	}
}

func TestRemoteClientAnalyzeOmitsEmptyOptionals(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"final_risk": 5}`))
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 5*time.Second, zap.NewNop())
	if _, err := client.Analyze(context.Background(), core.AnalysisRequest{Content: "hi"}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// Optional fields ride as explicit nulls, matching the service schema.
	if string(raw["sender_email"]) != "null" {
		t.Errorf("sender_email = %s, want null", raw["sender_email"])
	}
	if string(raw["url"]) != "null" {
		t.Errorf("url = %s, want null", raw["url"])
	}
}

func TestRemoteClientAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRemoteClient(srv.URL, 5*time.Second, zap.NewNop())
	if _, err := client.Analyze(context.Background(), core.AnalysisRequest{Content: "hi"}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestRemoteClientAnalyzeUnreachable(t *testing.T) {
	client := NewRemoteClient("http://127.0.0.1:1", 250*time.Millisecond, zap.NewNop())
	if _, err := client.Analyze(context.Background(), core.AnalysisRequest{Content: "hi"}); err == nil {
		t.Fatal("expected an error for an unreachable service")
	}
}
