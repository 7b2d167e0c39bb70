// Package client talks to a running ragdeskd server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloo-solutions/ragdesk/internal/api/handlers"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envServerURL = "RAGDESK_SERVER_URL"

	// ServerFlag is the flag that switches a command to a remote server.
	ServerFlag = "server"

	// Ingestion runs synchronously inside the /setup request.
	requestTimeout = 15 * time.Minute
)

// AddServerFlag registers the --server flag on cmd.
func AddServerFlag(cmd *cobra.Command) {
	cmd.Flags().String(ServerFlag, "", "Base URL of a running ragdeskd server (env "+envServerURL+")")
}

// ServerURL resolves the server URL with the cascade: flag → env → .env file.
// An empty result means the command runs against the local pipelines.
func ServerURL(cmd *cobra.Command) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup(ServerFlag); f != nil && f.Value.String() != "" {
			return strings.TrimRight(f.Value.String(), "/")
		}
	}

	_ = godotenv.Load()
	url := os.Getenv(envServerURL)
	if url == "" {
		url = os.Getenv(strings.TrimPrefix(envServerURL, "RAGDESK_"))
	}
	return strings.TrimRight(url, "/")
}

type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates an APIClient for the server at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// APIResponse represents the standard API response format.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	State string          `json:"state,omitempty"`
}

// APIError represents an error from the API. State is set when a pipeline
// failed and names the state it failed in.
type APIError struct {
	StatusCode int
	Message    string
	State      string
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("API error (%d) at %s: %s", e.StatusCode, e.State, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Setup runs the ingestion pipeline on the server.
func (c *APIClient) Setup(ctx context.Context) (*handlers.SetupResponse, error) {
	var out handlers.SetupResponse
	if err := c.do(ctx, http.MethodPost, "/setup", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Read asks the server a question.
func (c *APIClient) Read(ctx context.Context, question string) (*handlers.ReadResponse, error) {
	var out handlers.ReadResponse
	if err := c.do(ctx, http.MethodPost, "/read", handlers.ReadRequest{Query: question}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Runs lists the most recent ingestion runs, newest first.
func (c *APIClient) Runs(ctx context.Context, limit int) ([]*handlers.IngestRunResponse, error) {
	var out []*handlers.IngestRunResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/setup/runs?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(respBody)),
			}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiResp.Error,
			State:      apiResp.State,
		}
	}

	if out == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}
