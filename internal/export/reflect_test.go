package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akarpov/earshot/internal/storage"
)

func testSummary() storage.Summary {
	return storage.Summary{
		ID:           "sum-1",
		UserID:       "u-1",
		Headline:     "🍝 Dinner Plans With Friends",
		BulletPoints: []string{"Agreed on Italian food", "Reservation at eight"},
		Tag:          "social",
		FactChecks:   []string{"Incorrect: carbonara contains cream. Fact: the traditional recipe does not."},
		Timestamp:    time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC),
		CreatedAt:    time.Date(2025, 3, 1, 19, 10, 0, 0, time.UTC),
	}
}

// TestExport verifies the request the client sends: method, path, auth
// header, and list-append body.
func TestExport(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody dailyNoteRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("graph-42", "secret-token", srv.URL)
	user := storage.User{ID: "u-1", Timezone: "UTC"}

	if err := c.Export(context.Background(), testSummary(), user); err != nil {
		t.Fatalf("Export: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/graphs/graph-42/daily-notes" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.TransformType != "list-append" {
		t.Errorf("transform_type = %q, want list-append", gotBody.TransformType)
	}
	if gotBody.ListName != "Updates" {
		t.Errorf("list_name = %q, want Updates", gotBody.ListName)
	}
	if gotBody.Date != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("date = %q, want today", gotBody.Date)
	}
	if gotBody.Text == "" {
		t.Error("text is empty")
	}
}

// TestExport_ServerError surfaces non-2xx statuses as errors.
func TestExport_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("graph-42", "bad-token", srv.URL)
	if err := c.Export(context.Background(), testSummary(), storage.User{}); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestFormatSummary(t *testing.T) {
	local := time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC)

	got := FormatSummary(testSummary(), local)
	want := "### 02:05 PM - **🍝 Dinner Plans With Friends** #social\n\n" +
		"- Agreed on Italian food\n" +
		"- Reservation at eight\n" +
		"    - ❗**Fact Checker**\n" +
		"      - Incorrect: carbonara contains cream. Fact: the traditional recipe does not."

	if got != want {
		t.Errorf("FormatSummary mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

// TestFormatSummary_Minimal renders without tag or fact checks.
func TestFormatSummary_Minimal(t *testing.T) {
	sum := storage.Summary{
		Headline:     "💬 Quick Chat",
		BulletPoints: []string{"Nothing much"},
	}
	local := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	got := FormatSummary(sum, local)
	want := "### 09:00 AM - **💬 Quick Chat**\n\n- Nothing much"

	if got != want {
		t.Errorf("FormatSummary mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestUserLocation(t *testing.T) {
	if loc := userLocation(storage.User{Timezone: "Europe/Berlin"}); loc.String() != "Europe/Berlin" {
		t.Errorf("location = %s, want Europe/Berlin", loc)
	}
	if loc := userLocation(storage.User{}); loc.String() != "America/Los_Angeles" {
		t.Errorf("default location = %s, want America/Los_Angeles", loc)
	}
	if loc := userLocation(storage.User{Timezone: "Not/AZone"}); loc != time.UTC {
		t.Errorf("invalid timezone location = %s, want UTC", loc)
	}
}
