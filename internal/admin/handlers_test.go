package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaykit/relay/internal/history"
	"github.com/relaykit/relay/internal/stats"
)

// mockStore is an in-memory HistoryStore for handler tests.
type mockStore struct {
	byRoom map[string][]history.Message
	err    error
}

func (m *mockStore) RecentMessages(_ context.Context, room string, limit int) ([]history.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	msgs := m.byRoom[room]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func testMessages(room string, n int) []history.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]history.Message, n)
	for i := range out {
		out[i] = history.Message{
			MessageID: "id",
			Room:      room,
			SessionID: "s",
			Body:      "hello",
			SentAt:    base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	router := NewRouter(NewServer(nil, &stats.Counters{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestGetRoomMessages(t *testing.T) {
	t.Parallel()

	store := &mockStore{byRoom: map[string][]history.Message{
		"lobby": testMessages("lobby", 3),
	}}
	router := NewRouter(NewServer(store, &stats.Counters{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/lobby/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var msgs []history.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("len = %d, want 3", len(msgs))
	}
}

func TestGetRoomMessages_EmptyRoomIsEmptyArray(t *testing.T) {
	t.Parallel()

	store := &mockStore{byRoom: map[string][]history.Message{}}
	router := NewRouter(NewServer(store, &stats.Counters{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/ghost/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestGetRoomMessages_BadLimit(t *testing.T) {
	t.Parallel()

	store := &mockStore{byRoom: map[string][]history.Message{}}
	router := NewRouter(NewServer(store, &stats.Counters{}), nil)

	for _, bad := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/lobby/messages?limit="+bad, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestGetRoomMessages_NoBackend(t *testing.T) {
	t.Parallel()

	router := NewRouter(NewServer(nil, &stats.Counters{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/lobby/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetRoomMessages_StoreError(t *testing.T) {
	t.Parallel()

	store := &mockStore{err: errors.New("connection refused")}
	router := NewRouter(NewServer(store, &stats.Counters{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/lobby/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	counters := &stats.Counters{}
	counters.SessionsOpened.Add(3)
	counters.SessionsClosed.Add(1)
	counters.MessagesIn.Add(10)
	counters.MessagesOut.Add(25)

	router := NewRouter(NewServer(nil, counters), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap stats.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := stats.Snapshot{SessionsOpen: 2, SessionsOpened: 3, MessagesIn: 10, MessagesOut: 25}
	if snap != want {
		t.Errorf("snapshot = %+v, want %+v", snap, want)
	}
}
