package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client talks to the extraction service over HTTP and satisfies API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client rooted at baseURL. A nil httpClient falls back
// to http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	UploadURL string `json:"uploadUrl"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit registers a new job and returns its id plus the direct-upload URL.
func (c *Client) Submit(ctx context.Context, fileName, fileType string) (jobID, uploadURL string, err error) {
	body, _ := json.Marshal(map[string]string{"fileName": fileName, "fileType": fileType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("submit: %s", readAPIError(resp))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("submit: decode response: %w", err)
	}
	return out.JobID, out.UploadURL, nil
}

// Upload PUTs the object bytes to the issued upload URL.
func (c *Client) Upload(ctx context.Context, uploadURL, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload: %s", readAPIError(resp))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// JobStatus implements API.
func (c *Client) JobStatus(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+jobID, nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status: %s", readAPIError(resp))
	}

	var out struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Status{}, fmt.Errorf("status: decode response: %w", err)
	}
	return Status{Status: out.Status, ErrorMessage: out.ErrorMessage}, nil
}

// JobResults implements API.
func (c *Client) JobResults(ctx context.Context, jobID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/results/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("results: %s", readAPIError(resp))
	}

	var out struct {
		ExtractedData map[string]any `json:"extractedData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("results: decode response: %w", err)
	}
	return out.ExtractedData, nil
}

func readAPIError(resp *http.Response) string {
	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("server returned %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Sprintf("server returned %d", resp.StatusCode)
}
