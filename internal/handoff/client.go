// Package handoff posts finished extraction runs to an optional
// downstream collaborator endpoint. Delivery failures are reported to
// the caller for logging and never fail the run itself.
package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/examgest/internal/exam"
	"github.com/dgallion1/examgest/internal/report"
)

// Delivery is the record set posted for one completed run.
type Delivery struct {
	JobID     string                   `json:"job_id"`
	DocID     string                   `json:"doc_id"`
	Status    string                   `json:"status"`
	Questions []exam.QuestionCandidate `json:"questions"`
	Steps     []exam.ProcessingStep    `json:"steps,omitempty"`
	Report    *report.Report           `json:"report,omitempty"`
}

// Client delivers run results over HTTP with bearer-token auth.
// A nil *Client is valid and delivers nothing; construct with NewClient
// only when an endpoint is configured.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Deliver posts one finished run to {base}/deliveries.
func (c *Client) Deliver(ctx context.Context, d Delivery) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deliveries", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver job %s: %w", d.JobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("deliver job %s: status %d: %s", d.JobID, resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
