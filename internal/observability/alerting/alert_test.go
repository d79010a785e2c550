package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "TopEquations/internal/errors"
	"TopEquations/pkg/logger"
)

func TestFromErrorHonoursAlertAttribute(t *testing.T) {
	if _, ok := FromError(xerrors.New(xerrors.CodeInvalidArgument, "bad"), "j1", "submit", 1, 3); ok {
		t.Fatalf("validation errors must not alert")
	}
	event, ok := FromError(xerrors.New(xerrors.CodeStorageFailure, "disk", xerrors.WithMetadata("doc", "submissions")), "j2", "score", 3, 3)
	if !ok {
		t.Fatalf("storage failure should alert")
	}
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical || event.Metadata["doc"] != "submissions" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, ok := FromError(errors.New("plain"), "j3", "promote", 1, 3); !ok {
		t.Fatalf("uncoded errors should alert as unknown")
	}
	if !strings.Contains(event.Summary(), "doc=submissions") {
		t.Fatalf("summary should include metadata: %s", event.Summary())
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	event := Event{Code: xerrors.CodeLedgerFailure, Severity: xerrors.SeverityWarning, JobID: "j1", Kind: "score", Message: "down"}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "LEDGER_FAILURE") {
		t.Fatalf("unexpected payload: %v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	n.URL = failing.URL
	if err := n.Notify(context.Background(), event); err == nil {
		t.Fatalf("expected error on 500")
	}
}

type countingNotifier struct {
	channel Channel
	calls   int
	err     error
}

func (c *countingNotifier) Channel() Channel { return c.channel }

func (c *countingNotifier) Notify(context.Context, Event) error {
	c.calls++
	return c.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &countingNotifier{channel: ChannelLog}
	bad := &countingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(ok, bad, nil)
	err := d.Notify(context.Background(), Event{})
	if err == nil || !strings.Contains(err.Error(), "webhook") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Fatalf("every notifier should be called once")
	}
	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op")
	}
	if err := (&LogNotifier{Logger: logger.Discard()}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
