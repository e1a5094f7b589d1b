package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"libreria/pkg/domain"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel         = "gemini-2.5-flash"
)

// Fallback metadata returned when generation is unavailable or fails.
var (
	fallbackMissingKey = domain.GeneratedMetadata{
		Description: "Descripción no disponible (Falta API Key)",
		Category:    "General",
	}
	fallbackFailed = domain.GeneratedMetadata{
		Description: "No se pudo generar la descripción automáticamente.",
		Category:    "Sin Categoría",
	}
)

// Assistant calls the Google AI Studio (Gemini) API to suggest book
// metadata. A missing API key is not an error: generation degrades to a
// fixed fallback so the catalog flow keeps working.
type Assistant struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAssistant constructs an assistant. The API key may be empty.
func NewAssistant(apiKey, model string) *Assistant {
	model = strings.TrimSpace(strings.TrimPrefix(model, "models/"))
	if model == "" {
		model = defaultModel
	}
	return &Assistant{
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GenerateBookMetadata asks Gemini for a Spanish summary and a primary
// category for the given title and author. Never returns an error; any
// failure yields fallback metadata.
func (a *Assistant) GenerateBookMetadata(ctx context.Context, title, author string) domain.GeneratedMetadata {
	if a == nil || a.apiKey == "" {
		return fallbackMissingKey
	}

	prompt := fmt.Sprintf("Generate a concise summary (max 300 chars) and a primary genre category for the book titled %q by %q. The summary must be in Spanish.", title, author)
	reqBody := generateRequest{
		Contents: []content{
			{
				Role:  "user",
				Parts: []part{{Text: prompt}},
			},
		},
		GenerationConfig: &generationConfig{
			Temperature:      0.3,
			ResponseMIMEType: "application/json",
			ResponseSchema: &schema{
				Type: "OBJECT",
				Properties: map[string]schema{
					"description": {Type: "STRING"},
					"category":    {Type: "STRING"},
				},
				Required: []string{"description", "category"},
			},
		},
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, a.model, a.apiKey)
	if err := a.doJSON(ctx, url, reqBody, &resp); err != nil {
		slog.WarnContext(ctx, "metadata generation failed", "model", a.model, "error", err)
		return fallbackFailed
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		slog.WarnContext(ctx, "metadata generation returned no candidates", "model", a.model)
		return fallbackFailed
	}

	var meta domain.GeneratedMetadata
	if err := json.Unmarshal([]byte(resp.Candidates[0].Content.Parts[0].Text), &meta); err != nil {
		slog.WarnContext(ctx, "metadata generation returned malformed JSON", "model", a.model, "error", err)
		return fallbackFailed
	}
	if meta.Description == "" || meta.Category == "" {
		return fallbackFailed
	}
	return meta
}

func (a *Assistant) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string            `json:"type"`
	Properties map[string]schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
