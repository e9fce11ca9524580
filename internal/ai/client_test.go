package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCleanJSONResponse(t *testing.T) {
	c := &Client{}
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare object",
			input:    `{"language":"python"}`,
			expected: `{"language":"python"}`,
		},
		{
			name:     "fenced object",
			input:    "```json\n{\"language\":\"python\"}\n```",
			expected: `{"language":"python"}`,
		},
		{
			name:     "prose before json",
			input:    "Here is the plan:\n{\"language\":\"node\",\"note\":\"uses {braces}\"}",
			expected: `{"language":"node","note":"uses {braces}"}`,
		},
		{
			name:     "trailing prose after json",
			input:    `{"ports":[80]} hope this helps!`,
			expected: `{"ports":[80]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CleanJSONResponse(tt.input); got != tt.expected {
				t.Errorf("CleanJSONResponse(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeASCII(t *testing.T) {
	if got := sanitizeASCII("plain ascii"); got != "plain ascii" {
		t.Errorf("ascii input must pass through, got %q", got)
	}
	if got := sanitizeASCII("café deploy"); got != "caf deploy" {
		t.Errorf("non-ascii runes must be stripped, got %q", got)
	}
}

func TestLooksLikeEnvVarName(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"OPENAI_API_KEY", true},
		{"MY_SECRET_2", true},
		{"sk-abc123def456", false},
		{"short", false},
		{"2STARTS_WITH_DIGIT", false},
	}
	for _, tt := range tests {
		if got := looksLikeEnvVarName(tt.input); got != tt.expected {
			t.Errorf("looksLikeEnvVarName(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestAskOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"language\":\"python\"}"}}]}`))
	}))
	defer server.Close()

	c := &Client{
		provider:   "openai",
		model:      "gpt-4o",
		apiKey:     "test-key",
		baseURL:    server.URL,
		httpClient: server.Client(),
	}

	got, err := c.AskPrompt(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("AskPrompt failed: %v", err)
	}
	if got != `{"language":"python"}` {
		t.Errorf("unexpected response %q", got)
	}
}

func TestAskAnthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"plan text"}]}`))
	}))
	defer server.Close()

	c := &Client{
		provider:   "anthropic",
		model:      "claude-sonnet-4-20250514",
		apiKey:     "test-key",
		baseURL:    server.URL,
		httpClient: server.Client(),
	}

	got, err := c.AskPrompt(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("AskPrompt failed: %v", err)
	}
	if got != "plan text" {
		t.Errorf("unexpected response %q", got)
	}
}

func TestAskOpenAIMissingKey(t *testing.T) {
	c := &Client{provider: "openai", httpClient: http.DefaultClient}
	if _, err := c.AskPrompt(context.Background(), "x"); err == nil {
		t.Fatal("expected error without API key")
	}
}
