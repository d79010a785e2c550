package topeq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthenticateStoresToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if body["username"] != "curator" || body["grant_type"] != "password" {
			t.Fatalf("unexpected credentials: %v", body)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer", ExpiresIn: 3600})
	}))

	if _, err := client.Authenticate(context.Background(), "curator", "pw"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestPromoteSendsBearerToken(t *testing.T) {
	promoted := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/submissions/sub-1/promote" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var opts PromoteOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil || !opts.FromReview {
			t.Fatalf("unexpected promote body: %+v %v", opts, err)
		}
		promoted = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Promotion{SubmissionID: "sub-1", EquationID: "eq-one", Score: 70})
	}))
	client.SetAccessToken("token")

	out, err := client.Promote(context.Background(), "sub-1", PromoteOptions{FromReview: true})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !promoted || out.EquationID != "eq-one" {
		t.Fatalf("unexpected promotion: %+v", out)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"ALREADY_PROMOTED","message":"submission already promoted","metadata":{"job_id":"j1"}}}`))
	}))

	_, err := client.Promote(context.Background(), "sub-1", PromoteOptions{})
	if !IsCode(err, "ALREADY_PROMOTED") {
		t.Fatalf("expected ALREADY_PROMOTED, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusConflict || apiErr.Metadata["job_id"] != "j1" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestPlainErrorBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	_, err := client.GetSubmission(context.Background(), "sub-1")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Message != "gateway down" || apiErr.Code != "" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAcceptedReturnsJobID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/submissions":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"job_id":"job-7"}`))
		case "/api/v1/jobs/job-7":
			_ = json.NewEncoder(w).Encode(Job{JobID: "job-7", State: "succeeded", Output: json.RawMessage(`{"submissionId":"sub-1"}`)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	_, err := client.Submit(context.Background(), SubmissionInput{Name: "a", Equation: "b", Description: "c"})
	accepted, ok := err.(*ErrAccepted)
	if !ok || accepted.JobID != "job-7" {
		t.Fatalf("expected accepted job, got %v", err)
	}
	job, err := client.Job(context.Background(), accepted.JobID)
	if err != nil || job.State != "succeeded" {
		t.Fatalf("unexpected job: %+v %v", job, err)
	}
	var sub Submission
	if err := json.Unmarshal(job.Output, &sub); err != nil || sub.SubmissionID != "sub-1" {
		t.Fatalf("unexpected job output: %s", job.Output)
	}
}

func TestListQueryParameters(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "pending,needs-review" {
			t.Fatalf("unexpected status filter %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Fatalf("unexpected limit %q", got)
		}
		_, _ = w.Write([]byte(`{"entries":[{"submissionId":"sub-1","status":"pending"}]}`))
	}))
	entries, err := client.ListSubmissions(context.Background(), 5, "pending", "needs-review")
	if err != nil || len(entries) != 1 || entries[0].Status != "pending" {
		t.Fatalf("unexpected list: %+v %v", entries, err)
	}
}
