// Package topeq is a typed client for the TopEquations curation API.
package topeq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the curation REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Token is an issued curator access token.
type Token struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   int64    `json:"expires_in"`
	TokenType   string   `json:"token_type"`
	Permissions []string `json:"permissions"`
}

// SubmissionInput is the intake payload. Omitted optional fields take server defaults.
type SubmissionInput struct {
	Name        string   `json:"name"`
	Equation    string   `json:"equation"`
	Description string   `json:"description"`
	Source      string   `json:"source,omitempty"`
	Submitter   string   `json:"submitter,omitempty"`
	Units       string   `json:"units,omitempty"`
	Theory      string   `json:"theory,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Artifact references an animation or image.
type Artifact struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// SubScores are the four additive rubric dimensions.
type SubScores struct {
	Tractability         int `json:"tractability"`
	Plausibility         int `json:"plausibility"`
	Validation           int `json:"validation"`
	ArtifactCompleteness int `json:"artifactCompleteness"`
}

// Review is the latest scoring result attached to a submission.
type Review struct {
	Date           string    `json:"date"`
	EquationID     string    `json:"equationId"`
	Score          int       `json:"score"`
	HeuristicScore int       `json:"heuristic_score"`
	Scores         SubScores `json:"scores"`
	Novelty        int       `json:"novelty"`
	Method         string    `json:"method,omitempty"`
	BlendedScore   *int      `json:"blended_score,omitempty"`
}

// Submission is a candidate equation as stored by the server.
type Submission struct {
	SubmissionID  string   `json:"submissionId"`
	SubmittedAt   string   `json:"submittedAt"`
	Status        string   `json:"status"`
	Name          string   `json:"name"`
	EquationLatex string   `json:"equationLatex"`
	Description   string   `json:"description"`
	Source        string   `json:"source"`
	Submitter     string   `json:"submitter"`
	Units         string   `json:"units"`
	Theory        string   `json:"theory"`
	Assumptions   []string `json:"assumptions"`
	Evidence      []string `json:"evidence"`
	Animation     Artifact `json:"animation"`
	Image         Artifact `json:"image"`
	Review        *Review  `json:"review,omitempty"`
}

// Equation is a ranked record.
type Equation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FirstSeen     string    `json:"firstSeen"`
	Source        string    `json:"source"`
	Submitter     string    `json:"submitter"`
	RepoURL       string    `json:"repoUrl"`
	Score         int       `json:"score"`
	Scores        SubScores `json:"scores"`
	Units         string    `json:"units"`
	Theory        string    `json:"theory"`
	Description   string    `json:"description"`
	Assumptions   []string  `json:"assumptions"`
	Date          string    `json:"date"`
	EquationLatex string    `json:"equationLatex"`
}

// ScoreOptions tune a score request.
type ScoreOptions struct {
	IncludePromoted bool `json:"include_promoted,omitempty"`
	SyncEquations   bool `json:"sync_equations,omitempty"`
	UseLLM          bool `json:"use_llm,omitempty"`
	ManualScore     *int `json:"manual_score,omitempty"`
	Threshold       *int `json:"threshold,omitempty"`
}

// ScoreResult is the outcome for one submission.
type ScoreResult struct {
	SubmissionID   string `json:"submission_id"`
	Status         string `json:"status"`
	Score          int    `json:"score"`
	HeuristicScore int    `json:"heuristic_score"`
	Method         string `json:"method"`
	Blended        *int   `json:"blended_score,omitempty"`
	AdvisoryError  string `json:"llm_error,omitempty"`
	EquationID     string `json:"equation_id,omitempty"`
	Synced         bool   `json:"synced,omitempty"`
}

// ScoreReport collects the score results of one request.
type ScoreReport struct {
	Results []ScoreResult `json:"results"`
	Synced  int           `json:"synced"`
}

// ManualScores are curator supplied rubric values.
type ManualScores struct {
	Tractability         int `json:"tractability"`
	Plausibility         int `json:"plausibility"`
	Validation           int `json:"validation"`
	ArtifactCompleteness int `json:"artifactCompleteness"`
	Novelty              int `json:"novelty"`
}

// PromoteOptions select how a submission is promoted.
type PromoteOptions struct {
	FromReview  bool          `json:"from_review,omitempty"`
	Manual      *ManualScores `json:"manual,omitempty"`
	ManualScore *int          `json:"manual_score,omitempty"`
	EquationID  string        `json:"equation_id,omitempty"`
}

// Promotion is the result of a successful promotion.
type Promotion struct {
	SubmissionID string    `json:"submission_id"`
	EquationID   string    `json:"equation_id"`
	Score        int       `json:"score"`
	Record       *Equation `json:"record"`
}

// Job is the state of a queued write.
type Job struct {
	JobID  string          `json:"job_id"`
	Kind   string          `json:"kind"`
	State  string          `json:"state"`
	Output json.RawMessage `json:"output,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReconcileIssue is one drift finding.
type ReconcileIssue struct {
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	IDs      []string `json:"ids,omitempty"`
}

// ReconcileReport is the drift report.
type ReconcileReport struct {
	Status     string           `json:"status"`
	IssueCount int              `json:"issue_count"`
	Issues     []ReconcileIssue `json:"issues"`
}

// ErrAccepted is returned when a write was queued but did not finish in time.
// The job can be polled with Client.Job.
type ErrAccepted struct {
	JobID string
}

func (e *ErrAccepted) Error() string {
	return fmt.Sprintf("topeq: job %s accepted but not finished", e.JobID)
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("topeq api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("topeq api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client with
// DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges curator credentials for an access token and stores it
// for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Token, error) {
	var token Token
	body := map[string]string{"grant_type": "password", "username": username, "password": password}
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", nil, body, &token); err != nil {
		return Token{}, err
	}
	c.SetAccessToken(token.AccessToken)
	return token, nil
}

// Submit files a new submission.
func (c *Client) Submit(ctx context.Context, in SubmissionInput) (Submission, error) {
	var out Submission
	err := c.send(ctx, http.MethodPost, "/api/v1/submissions", nil, in, &out)
	return out, err
}

// GetSubmission fetches one submission.
func (c *Client) GetSubmission(ctx context.Context, id string) (Submission, error) {
	var out Submission
	err := c.send(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// ListSubmissions lists submissions newest first, optionally filtered by status.
func (c *Client) ListSubmissions(ctx context.Context, limit int, statuses ...string) ([]Submission, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	var out struct {
		Entries []Submission `json:"entries"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/submissions", query, nil, &out)
	return out.Entries, err
}

// Score scores one submission. Requires a curator token when the server enables auth.
func (c *Client) Score(ctx context.Context, id string, opts ScoreOptions) (ScoreReport, error) {
	var out ScoreReport
	err := c.send(ctx, http.MethodPost, "/api/v1/submissions/"+url.PathEscape(id)+"/score", nil, opts, &out)
	return out, err
}

// Promote promotes one submission into the ranked set.
func (c *Client) Promote(ctx context.Context, id string, opts PromoteOptions) (Promotion, error) {
	var out Promotion
	err := c.send(ctx, http.MethodPost, "/api/v1/submissions/"+url.PathEscape(id)+"/promote", nil, opts, &out)
	return out, err
}

// ListEquations returns ranked records ordered by score.
func (c *Client) ListEquations(ctx context.Context, limit int) ([]Equation, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Entries []Equation `json:"entries"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/equations", query, nil, &out)
	return out.Entries, err
}

// GetEquation fetches one ranked record.
func (c *Client) GetEquation(ctx context.Context, id string) (Equation, error) {
	var out Equation
	err := c.send(ctx, http.MethodGet, "/api/v1/equations/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Job polls a queued write.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Reconcile runs the drift report on the server.
func (c *Client) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var out ReconcileReport
	err := c.send(ctx, http.MethodGet, "/api/v1/reconcile", nil, nil, &out)
	return out, err
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint)})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: apiErr}); err != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if resp.StatusCode == http.StatusAccepted {
		var accepted struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(data, &accepted); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return &ErrAccepted{JobID: accepted.JobID}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
