package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"productocr/internal/domain"
	"productocr/internal/infra"
)

const extractionPrompt = `You are an expert at reading product photographs, labels and packaging.
Extract the product details visible in this image and answer with a single JSON object using
exactly these keys where information is available: productName, brand, category, price,
currency, dimensions, weight, description, additionalDetails. productName is mandatory;
omit keys you cannot determine. additionalDetails is an object for anything that does not
fit the other keys. Do not invent values.`

// Options controls how the Gemini extractor is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiExtractor implements Extractor against the Gemini generateContent API.
type GeminiExtractor struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewGeminiExtractor creates a configured extractor.
func NewGeminiExtractor(opts Options) (*GeminiExtractor, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("extract: model is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("extract: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiExtractor{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: client,
		logger:     opts.Logger,
	}, nil
}

// Model returns the configured model identifier.
func (e *GeminiExtractor) Model() string {
	return e.model
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the image to the model and returns the validated product
// document.
func (e *GeminiExtractor) Extract(ctx context.Context, data []byte, contentType string) (Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", domain.ErrCapabilityFailure)
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", domain.ErrCapabilityFailure)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: contentType, Data: base64.StdEncoding.EncodeToString(data)}},
				{Text: extractionPrompt},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json"},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(e.model))
	if err := e.invoke(ctx, path, payload, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCapabilityFailure, err)
	}

	text := firstTextPart(response)
	if text == "" {
		return nil, fmt.Errorf("%w: no text candidate in response", domain.ErrCapabilityFailure)
	}
	doc, err := ParseDocument([]byte(text))
	if err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug().Str("model", e.model).Int("fields", len(doc)).Msg("extract: document parsed")
	}
	return doc, nil
}

func firstTextPart(response geminiGenerateContentResponse) string {
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func (e *GeminiExtractor) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := e.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", e.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}
