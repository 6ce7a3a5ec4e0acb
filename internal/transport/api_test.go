package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/victorivanov/commsync/internal/models"
)

func newTestAPI(t *testing.T, h http.HandlerFunc) *API {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL+"/", "tok", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPI_HistoryQuery(t *testing.T) {
	before := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/comms/channels/general/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q", got)
		}
		if got := r.URL.Query().Get("cursor"); got != "2024-01-02T03:04:05Z" {
			t.Errorf("cursor = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": []models.Message{{ID: "1", ChannelID: "general", Content: "a"}},
		})
	})

	msgs, err := api.History(context.Background(), "general", HistoryQuery{Limit: 25, Before: before})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestAPI_CreateMessage(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/comms/channels/general/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in NewMessage
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": models.Message{ID: "99", ChannelID: "general", Content: in.Content},
		})
	})

	msg, err := api.CreateMessage(context.Background(), "general", NewMessage{Content: "hello"})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "99" || msg.Content != "hello" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestAPI_DeleteReturnsRef(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/comms/messages/7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, models.MessageRef{ID: "7", ChannelID: "general"})
	})

	ref, err := api.DeleteMessage(context.Background(), "7")
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if ref.ID != "7" || ref.ChannelID != "general" {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestAPI_ErrorEnvelope(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: ErrorDetail{Code: "FORBIDDEN", Message: "not yours"}})
	})

	_, err := api.UpdateMessage(context.Background(), "7", "edited")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "FORBIDDEN" || apiErr.Message != "not yours" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !errors.Is(err, ErrRejected) {
		t.Fatal("APIError should match ErrRejected")
	}
}

func TestAPI_ErrorWithoutEnvelope(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := api.ListChannels(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestAPI_MissingMessageIsRejected(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": nil})
	})

	if _, err := api.ToggleReaction(context.Background(), "7", "👍"); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}
