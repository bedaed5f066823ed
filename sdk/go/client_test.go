package troopssdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetSubordinateConditional(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leader/subordinates/soldier-1" || r.URL.Query().Get("heartbeat") != "true" {
			http.Error(w, "bad path", http.StatusTeapot)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"_status":{"success":true,"msg":"status is ok"},"info":{"id":"soldier-1","name":"s"}}`))
	}))
	defer ts.Close()

	c := New(ts.URL + "/leader")
	info, etag, err := c.GetSubordinate(context.Background(), "soldier-1", "", true)
	if err != nil || info.ID != "soldier-1" || etag != `"v1"` {
		t.Fatalf("first get: info=%+v etag=%q err=%v", info, etag, err)
	}
	_, same, err := c.GetSubordinate(context.Background(), "soldier-1", etag, true)
	if !errors.Is(err, ErrNotModified) || same != etag {
		t.Fatalf("conditional get: etag=%q err=%v", same, err)
	}
}

func TestAPIErrorCarriesEnvelopeMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"_status":{"success":false,"msg":"LeaderID was found, but the instance was not resolved"}}`))
	}))
	defer ts.Close()

	_, _, err := New(ts.URL+"/recruiter").SquadLeader(context.Background(), "soldier-1")
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Msg != "LeaderID was found, but the instance was not resolved" {
		t.Fatalf("api error = %+v", ae)
	}
}

func TestCommanderNotRegistered(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_status":{"success":true,"msg":"status is ok"},"commander":{}}`))
	}))
	defer ts.Close()

	if _, err := New(ts.URL).Commander(context.Background(), "commander-1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v", err)
	}
}
