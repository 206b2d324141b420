package storage

import (
	"errors"
	"testing"
	"time"
)

// TestCommitSummary verifies the commit is one unit: summary inserted,
// segments marked processed, staging fragments gone.
func TestCommitSummary(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedConversation(t, s, "u-1", base, []string{"hello", "world"})

	sum := Summary{
		ID:           "sum-1",
		UserID:       "u-1",
		Headline:     "Chatting about greetings",
		BulletPoints: []string{"Said hello", "Said world"},
		Tag:          "social",
		FactChecks:   []string{"\"world\" is not a greeting"},
		Timestamp:    base,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CommitSummary(sum, []string{"seg-0", "seg-1"}, []string{"frag-0", "frag-1"}); err != nil {
		t.Fatalf("CommitSummary: %v", err)
	}

	got, err := s.GetSummary("sum-1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.Headline != sum.Headline {
		t.Errorf("Headline = %q, want %q", got.Headline, sum.Headline)
	}
	if len(got.BulletPoints) != 2 || got.BulletPoints[0] != "Said hello" {
		t.Errorf("BulletPoints = %v, want %v", got.BulletPoints, sum.BulletPoints)
	}
	if got.Tag != "social" {
		t.Errorf("Tag = %q, want %q", got.Tag, "social")
	}
	if len(got.FactChecks) != 1 {
		t.Errorf("FactChecks = %v, want 1 entry", got.FactChecks)
	}
	if !got.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, base)
	}

	var frags int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fragments`).Scan(&frags); err != nil {
		t.Fatalf("counting fragments: %v", err)
	}
	if frags != 0 {
		t.Errorf("fragments = %d, want 0 after commit", frags)
	}

	var processed int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE processed = 1 AND summary_id = 'sum-1'`).Scan(&processed); err != nil {
		t.Fatalf("counting processed segments: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed segments = %d, want 2", processed)
	}
}

// TestCommitSummary_RollsBack verifies a failing commit leaves fragments and
// segments untouched. The duplicate summary ID forces the insert to fail.
func TestCommitSummary_RollsBack(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedConversation(t, s, "u-1", base, []string{"hello", "world"})

	sum := Summary{
		ID:           "sum-dup",
		UserID:       "u-1",
		Headline:     "First",
		BulletPoints: []string{"a"},
		Timestamp:    base,
		CreatedAt:    base,
	}
	if err := s.CommitSummary(sum, []string{"seg-0"}, []string{"frag-0"}); err != nil {
		t.Fatalf("first CommitSummary: %v", err)
	}

	sum.Headline = "Second"
	if err := s.CommitSummary(sum, []string{"seg-1"}, []string{"frag-1"}); err == nil {
		t.Fatal("expected duplicate summary ID to fail")
	}

	// frag-1 must still be pending and seg-1 unprocessed.
	var frags int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fragments WHERE id = 'frag-1'`).Scan(&frags); err != nil {
		t.Fatalf("counting fragments: %v", err)
	}
	if frags != 1 {
		t.Errorf("frag-1 count = %d, want 1 (rollback)", frags)
	}
	var processed int
	if err := s.db.QueryRow(`SELECT processed FROM segments WHERE id = 'seg-1'`).Scan(&processed); err != nil {
		t.Fatalf("selecting seg-1: %v", err)
	}
	if processed != 0 {
		t.Error("seg-1 marked processed despite rollback")
	}
}

// TestCommitSummary_EmptyTag stores NULL and reads back empty.
func TestCommitSummary_EmptyTag(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seedConversation(t, s, "u-1", base, []string{"hello"})

	sum := Summary{
		ID:           "sum-untagged",
		UserID:       "u-1",
		Headline:     "No tag",
		BulletPoints: []string{"a"},
		Timestamp:    base,
		CreatedAt:    base,
	}
	if err := s.CommitSummary(sum, nil, nil); err != nil {
		t.Fatalf("CommitSummary: %v", err)
	}

	var tagIsNull int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM summaries WHERE id = 'sum-untagged' AND tag IS NULL`).Scan(&tagIsNull); err != nil {
		t.Fatalf("checking tag: %v", err)
	}
	if tagIsNull != 1 {
		t.Error("empty tag should be stored as NULL")
	}

	got, err := s.GetSummary("sum-untagged")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.Tag != "" {
		t.Errorf("Tag = %q, want empty", got.Tag)
	}
}

// TestGetSummaryNotFound returns ErrNotFound for unknown IDs.
func TestGetSummaryNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSummary("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestRecentSummaries orders by conversation time descending and respects
// the limit.
func TestRecentSummaries(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.CreateUser(User{ID: "u-1", UID: "uid-1", CreatedAt: base}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	for i := 0; i < 5; i++ {
		sum := Summary{
			ID:           "sum-" + string(rune('a'+i)),
			UserID:       "u-1",
			Headline:     "Summary",
			BulletPoints: []string{"point"},
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			CreatedAt:    base,
		}
		if err := s.CommitSummary(sum, nil, nil); err != nil {
			t.Fatalf("CommitSummary %d: %v", i, err)
		}
	}

	got, err := s.RecentSummaries(3)
	if err != nil {
		t.Fatalf("RecentSummaries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d summaries, want 3", len(got))
	}
	if got[0].ID != "sum-e" {
		t.Errorf("first = %q, want sum-e", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("not descending at %d", i)
		}
	}
}
