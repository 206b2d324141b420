package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSummarizeRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/summarize": `{"status":"started"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/admin/summarize", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "started" {
		t.Errorf("status = %q, want started", result["status"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/admin/summarize" {
		t.Errorf("request = %s %s, want POST /admin/summarize", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestBacklogRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/backlog": `{
			"backlog_by_user": [{"user_id":"user-1","pending":4}],
			"pending_fragments": [
				{"id":"frag-0001-aaaa","user_id":"user-1","speaker":"SPEAKER_00","text":"hello","timestamp":"2025-03-01T09:00:00Z","locked":true,"attempts":2}
			],
			"recent_summaries": []
		}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/admin/backlog?limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var backlog struct {
		ByUser []struct {
			UserID  string `json:"user_id"`
			Pending int    `json:"pending"`
		} `json:"backlog_by_user"`
		Pending []struct {
			ID       string `json:"id"`
			Locked   bool   `json:"locked"`
			Attempts int    `json:"attempts"`
		} `json:"pending_fragments"`
	}
	if err := decodeJSON(resp, &backlog); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(backlog.ByUser) != 1 || backlog.ByUser[0].Pending != 4 {
		t.Errorf("backlog_by_user = %+v, want user-1 with 4 pending", backlog.ByUser)
	}
	if len(backlog.Pending) != 1 || !backlog.Pending[0].Locked || backlog.Pending[0].Attempts != 2 {
		t.Errorf("pending_fragments = %+v, want one locked fragment with 2 attempts", backlog.Pending)
	}

	if ts.requests[0].Path != "/admin/backlog?limit=5" {
		t.Errorf("path = %q, want limit passed through", ts.requests[0].Path)
	}
}

func TestSummariesRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /summaries": `[
			{"id":"sum-0001-aaaa","headline":"🍝 Dinner Plans","bullet_points":["Italian food"],"tag":"social","fact_checks":[],"timestamp":"2025-03-01T19:00:00Z"}
		]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/summaries?limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var summaries []struct {
		ID           string   `json:"id"`
		Headline     string   `json:"headline"`
		BulletPoints []string `json:"bullet_points"`
		Tag          string   `json:"tag"`
	}
	if err := decodeJSON(resp, &summaries); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if summaries[0].Tag != "social" {
		t.Errorf("tag = %q, want social", summaries[0].Tag)
	}
	if len(summaries[0].BulletPoints) != 1 {
		t.Errorf("bullet_points = %v, want one entry", summaries[0].BulletPoints)
	}
}

func TestUserAddRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/users": `{"id":"user-123","uid":"dev-9"}`,
	})

	client := ts.client()
	body := map[string]string{"uid": "dev-9", "timezone": "Europe/Berlin"}
	resp, err := client.post(ctx, "/admin/users", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var user struct {
		ID  string `json:"id"`
		UID string `json:"uid"`
	}
	if err := decodeJSON(resp, &user); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("id = %q, want user-123", user.ID)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["uid"] != "dev-9" || sent["timezone"] != "Europe/Berlin" {
		t.Errorf("sent body = %v", sent)
	}
}

func TestUserAddCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"user", "add"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing uid argument")
	}
}

func TestConfigSetCommand_UnknownKey(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "no.such.key", "value"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown config key")
	}
	if !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("error = %q, want it to mention the unknown key", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/summaries/missing/segments")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var v map[string]any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to include the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to include the server message", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
