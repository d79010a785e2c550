package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"TopEquations/sdk/go/topeq"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(topeq.Token{AccessToken: "demo-token", TokenType: "Bearer", ExpiresIn: 3600})
	})
	mux.HandleFunc("POST /api/v1/submissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(topeq.Submission{SubmissionID: "sub-2026-02-20-entropy-gate", Status: "pending"})
	})
	mux.HandleFunc("POST /api/v1/submissions/{id}/score", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(topeq.ScoreReport{Results: []topeq.ScoreResult{
			{SubmissionID: r.PathValue("id"), Status: "ready", Score: 72, Method: "heuristic-only"},
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := topeq.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Authenticate(ctx, "curator", "secret"); err != nil {
		panic(err)
	}
	sub, err := client.Submit(ctx, topeq.SubmissionInput{Name: "Entropy Gate", Equation: `S = k \ln W`, Description: "Boltzmann entropy"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted %s (status=%s)\n", sub.SubmissionID, sub.Status)

	report, err := client.Score(ctx, sub.SubmissionID, topeq.ScoreOptions{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("scored %s: %d (%s)\n", sub.SubmissionID, report.Results[0].Score, report.Results[0].Status)
}
