package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Client talks to one of the supported LLM providers. Which provider and
// model to use comes from configuration (ai.default_provider and
// ai.providers.<name>), the same keys the config file documents.
type Client struct {
	provider     string
	model        string
	apiKey       string
	baseURL      string
	geminiClient *genai.Client
	httpClient   *http.Client
	debug        bool
}

func looksLikeEnvVarName(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return false
	}
	// Must be all caps/underscores/digits and start with a letter.
	for i, r := range s {
		if i == 0 {
			if r < 'A' || r > 'Z' {
				return false
			}
			continue
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// resolveEnvVarKeyPointer lets config files hold an env var NAME instead of
// the key itself, so secrets stay out of ~/.shipit.yaml.
func resolveEnvVarKeyPointer(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ""
	}
	if !looksLikeEnvVarName(apiKey) {
		return apiKey
	}
	if v := strings.TrimSpace(os.Getenv(apiKey)); v != "" {
		return v
	}
	return apiKey
}

func resolveAPIKey(provider string) string {
	if key := viper.GetString(fmt.Sprintf("ai.providers.%s.api_key", provider)); key != "" {
		return resolveEnvVarKeyPointer(key)
	}
	if envName := viper.GetString(fmt.Sprintf("ai.providers.%s.api_key_env", provider)); envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v
		}
	}
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini-api":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "gemini", "gemini-api":
		return "gemini-2.0-flash"
	default:
		return "gpt-4o"
	}
}

// NewClient builds a client for the given provider. Empty provider falls back
// to the configured default, then to openai.
func NewClient(provider, model string, debug bool) *Client {
	if provider == "" {
		provider = viper.GetString("ai.default_provider")
	}
	if provider == "" {
		provider = "openai"
	}
	if model == "" {
		model = viper.GetString(fmt.Sprintf("ai.providers.%s.model", provider))
	}
	if model == "" {
		model = defaultModel(provider)
	}

	client := &Client{
		provider:   provider,
		model:      model,
		apiKey:     resolveAPIKey(provider),
		httpClient: &http.Client{},
		debug:      debug,
	}

	switch provider {
	case "gemini":
		// Application Default Credentials, same flow as the gemini CLI.
		// User should run: gcloud auth application-default login
		ctx := context.Background()
		geminiClient, err := genai.NewClient(ctx, &genai.ClientConfig{})
		if err == nil {
			client.geminiClient = geminiClient
		} else if debug {
			fmt.Fprintf(os.Stderr, "[ai] gemini client init failed: %v\n", err)
		}
	case "gemini-api":
		ctx := context.Background()
		geminiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: client.apiKey,
		})
		if err == nil {
			client.geminiClient = geminiClient
		} else if debug {
			fmt.Fprintf(os.Stderr, "[ai] gemini client init failed: %v\n", err)
		}
	case "anthropic":
		client.baseURL = "https://api.anthropic.com/v1"
	default:
		client.provider = "openai"
		client.baseURL = "https://api.openai.com/v1"
	}

	return client
}

// Provider reports which backend this client dispatches to.
func (c *Client) Provider() string { return c.provider }

// AskPrompt sends a raw prompt to the configured provider and returns the
// text of the response.
func (c *Client) AskPrompt(ctx context.Context, prompt string) (string, error) {
	if c.debug {
		fmt.Fprintf(os.Stderr, "[ai] prompt length %d chars, provider %s, model %s\n", len(prompt), c.provider, c.model)
	}
	switch c.provider {
	case "anthropic":
		return c.askAnthropic(ctx, prompt)
	case "gemini", "gemini-api":
		return c.askGemini(ctx, prompt)
	default:
		return c.askOpenAI(ctx, prompt)
	}
}

func (c *Client) askOpenAI(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	request := openAIRequest{
		Model: c.model,
		Messages: []message{
			{
				Role:    "user",
				Content: sanitizeASCII(prompt),
			},
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from AI")
	}

	return response.Choices[0].Message.Content, nil
}

func (c *Client) askAnthropic(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("Anthropic API key not configured")
	}

	// Anthropic API is strict about ASCII in some client setups; keep consistent with other providers.
	prompt = sanitizeASCII(prompt)

	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   4000,
		Temperature: 0.1,
		Messages: []anthropicMessage{{
			Role: "user",
			// Content-block format, compatible with the modern Messages API.
			Content: []map[string]any{{"type": "text", "text": prompt}},
		}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", strings.TrimSpace(c.apiKey))
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Anthropic API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, block := range parsed.Content {
		if strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no response content from Anthropic")
}

func (c *Client) askGemini(ctx context.Context, prompt string) (string, error) {
	if c.geminiClient == nil {
		return "", fmt.Errorf("gemini client not initialized")
	}

	content := genai.NewContentFromText(sanitizeASCII(prompt), genai.RoleUser)

	resp, err := c.geminiClient.Models.GenerateContent(ctx, c.model, []*genai.Content{content}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response candidates from Gemini")
	}

	var result strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			result.WriteString(part.Text)
		}
	}

	return result.String(), nil
}

func stripMarkdownCodeFences(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if strings.HasPrefix(t, "```") {
			continue
		}
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// CleanJSONResponse extracts the first valid JSON value from an LLM response.
// It is robust against braces inside JSON strings and markdown code fences.
func (c *Client) CleanJSONResponse(response string) string {
	s := strings.TrimSpace(response)
	if s == "" {
		return s
	}

	// Remove markdown code fences, which often introduce leading backticks.
	s = stripMarkdownCodeFences(s)

	// Scan for a JSON object/array start and attempt decoding from there.
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '{' && ch != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		dec.UseNumber()
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			trimmed := strings.TrimSpace(string(raw))
			if trimmed != "" {
				return trimmed
			}
		}
	}

	return strings.TrimSpace(response)
}

// sanitizeASCII strips non-ASCII runes to avoid provider argv and encoding limits.
func sanitizeASCII(s string) string {
	allASCII := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 128 {
			allASCII = false
			break
		}
	}
	if allASCII {
		return s
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 128 {
			b = append(b, s[i])
		}
	}
	return string(b)
}
