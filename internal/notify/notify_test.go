package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

type recordingPusher struct {
	sent []PushMessage
	err  error
}

func (p *recordingPusher) Push(_ context.Context, msg PushMessage) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func seededStore(t *testing.T, installation string) *ledger.MemoryStore {
	t.Helper()
	store := ledger.NewMemoryStore()
	owner := uuid.New()
	store.PutUser(db.User{ID: owner, Email: "a@example.com", InstallationID: installation})
	store.PutMeter(db.Meter{AccountNumber: "A1", Model: db.ModelDorot, OwnerID: &owner})
	store.PutMeter(db.Meter{AccountNumber: "ORPHAN", Model: db.ModelIUSA})
	return store
}

func TestDispatcher_Notify(t *testing.T) {
	pusher := &recordingPusher{}
	d := NewDispatcher(seededStore(t, "inst-1"), pusher)

	if err := d.Notify(context.Background(), "A1", TitleNewReading, NewReadingBody(12)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(pusher.sent) != 1 {
		t.Fatalf("Expected 1 push, got %d", len(pusher.sent))
	}
	msg := pusher.sent[0]
	if msg.Recipient != "inst-1" {
		t.Errorf("Expected recipient inst-1, got %s", msg.Recipient)
	}
	if msg.Alert != "Reading processed. Value: 12" {
		t.Errorf("Unexpected alert: %s", msg.Alert)
	}
}

func TestDispatcher_UnresolvableRecipient(t *testing.T) {
	pusher := &recordingPusher{}
	d := NewDispatcher(seededStore(t, ""), pusher)
	ctx := context.Background()

	cases := []string{"MISSING", "ORPHAN", "A1"}
	for _, account := range cases {
		err := d.Notify(ctx, account, TitleNewReading, "x")
		if err == nil {
			t.Errorf("Expected error for %s", account)
			continue
		}
		if !ledger.IsKind(err, ledger.KindGet) {
			t.Errorf("Expected get error for %s, got %v", account, err)
		}
	}
	if len(pusher.sent) != 0 {
		t.Errorf("Expected no pushes, got %d", len(pusher.sent))
	}
}

func TestDispatcher_TransportFailure(t *testing.T) {
	pusher := &recordingPusher{err: errors.New("boom")}
	d := NewDispatcher(seededStore(t, "inst-1"), pusher)

	if err := d.Notify(context.Background(), "A1", TitleNewReading, "x"); err == nil {
		t.Error("Expected transport error to be returned")
	}
}

func TestHTTPPusher_Push(t *testing.T) {
	var got pushPayload
	var appID, apiKey, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		appID = r.Header.Get("X-Parse-Application-Id")
		apiKey = r.Header.Get("X-Parse-REST-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL+"/", "app", "key", time.Second)
	err := p.Push(context.Background(), PushMessage{Recipient: "inst-1", Title: "T", Alert: "A"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if path != "/1/push" {
		t.Errorf("Expected path /1/push, got %s", path)
	}
	if appID != "app" || apiKey != "key" {
		t.Errorf("Unexpected auth headers: %s %s", appID, apiKey)
	}
	if got.Where.InstallationID != "inst-1" || got.Data.Title != "T" || got.Data.Alert != "A" {
		t.Errorf("Unexpected payload: %+v", got)
	}
}

func TestHTTPPusher_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, "app", "key", time.Second)
	if err := p.Push(context.Background(), PushMessage{Recipient: "inst-1"}); err == nil {
		t.Error("Expected error for non-200 status")
	}
}

func TestHTTPPusher_EmptyRecipient(t *testing.T) {
	p := NewHTTPPusher("http://127.0.0.1:1", "app", "key", time.Second)
	if err := p.Push(context.Background(), PushMessage{}); err == nil {
		t.Error("Expected error for empty recipient")
	}
}
