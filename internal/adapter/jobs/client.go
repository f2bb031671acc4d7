package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentimatrix-automation/config"
	"sentimatrix-automation/internal/core/domain"
	"sentimatrix-automation/internal/core/ports"

	"github.com/rs/zerolog"
)

const maxErrorBody = 512

// Client starts collection jobs on the job-execution service.
type Client struct {
	baseURL string
	apiKey  string
	sig     ports.SignatureService
	http    *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

var _ ports.JobTrigger = (*Client)(nil)

// NewClient creates a job-service client. Requests are signed with
// cfg.APIKey when it is set; a non-positive cfg.Timeout means 30s.
func NewClient(cfg config.JobsConfig, sig ports.SignatureService, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		sig:     sig,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "jobs_client").Logger(),
		now:     time.Now,
	}
}

type triggerRequest struct {
	UserID  string               `json:"user_id"`
	Trigger domain.TriggerSource `json:"trigger"`
}

type triggerResponse struct {
	JobID string `json:"job_id"`
	Data  *struct {
		JobID string `json:"job_id"`
	} `json:"data,omitempty"`
}

// TriggerJob asks the job service to start a run for projectID.
func (c *Client) TriggerJob(ctx context.Context, projectID, userID string, source domain.TriggerSource) (string, error) {
	body, err := json.Marshal(triggerRequest{UserID: userID, Trigger: source})
	if err != nil {
		return "", fmt.Errorf("encode trigger request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/internal/v1/projects/%s/jobs", c.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(domain.HeaderTimestamp, strconv.FormatInt(c.now().Unix(), 10))
	if c.apiKey != "" {
		req.Header.Set(domain.HeaderSignature, c.sig.Sign(c.apiKey, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger job for project %s: %w", projectID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		var out triggerResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode trigger response: %w", err)
		}
		jobID := out.JobID
		if jobID == "" && out.Data != nil {
			jobID = out.Data.JobID
		}
		if jobID == "" {
			return "", fmt.Errorf("trigger response for project %s has no job id", projectID)
		}
		c.log.Debug().Str("project_id", projectID).Str("job_id", jobID).Str("trigger", string(source)).Msg("job started")
		return jobID, nil
	case http.StatusConflict:
		return "", ports.ErrJobAlreadyRunning
	case http.StatusUnprocessableEntity:
		return "", ports.ErrNoActiveTargets
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("job service returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
