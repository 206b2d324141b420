package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CommitSummary promotes one chunk to a summary as a single atomic unit:
// insert the summary row, point the source segments at it with
// processed = 1, and delete the staging fragments. Any failure rolls the
// whole unit back, so a segment is never marked processed without a valid
// summary behind it.
func (s *Store) CommitSummary(sum Summary, segmentIDs, fragmentIDs []string) error {
	bullets, err := json.Marshal(sum.BulletPoints)
	if err != nil {
		return fmt.Errorf("marshaling bullet points: %w", err)
	}
	factChecks, err := json.Marshal(sum.FactChecks)
	if err != nil {
		return fmt.Errorf("marshaling fact checks: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	var tag any
	if sum.Tag != "" {
		tag = sum.Tag
	}
	if _, err := tx.Exec(`
		INSERT INTO summaries (id, user_id, headline, bullet_points, tag, fact_checks, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.Headline, string(bullets), tag, string(factChecks),
		fmtTime(sum.Timestamp), fmtTime(sum.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	if len(segmentIDs) > 0 {
		query := `UPDATE segments SET processed = 1, summary_id = ? WHERE id IN (` + placeholders(len(segmentIDs)) + `)`
		args := make([]any, 0, len(segmentIDs)+1)
		args = append(args, sum.ID)
		for _, id := range segmentIDs {
			args = append(args, id)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("updating segments: %w", err)
		}
	}

	if len(fragmentIDs) > 0 {
		query := `DELETE FROM fragments WHERE id IN (` + placeholders(len(fragmentIDs)) + `)`
		args := make([]any, len(fragmentIDs))
		for i, id := range fragmentIDs {
			args[i] = id
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("deleting fragments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing summary: %w", err)
	}
	return nil
}

func (s *Store) GetSummary(id string) (Summary, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, headline, bullet_points, tag, fact_checks, timestamp, created_at
		FROM summaries WHERE id = ?`, id)
	sum, err := scanSummary(row.Scan)
	if err == sql.ErrNoRows {
		return Summary{}, ErrNotFound
	}
	return sum, err
}

// RecentSummaries returns the newest summaries across all users, ordered by
// conversation time descending.
func (s *Store) RecentSummaries(limit int) ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, headline, bullet_points, tag, fact_checks, timestamp, created_at
		FROM summaries ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		sum, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func scanSummary(scan func(...any) error) (Summary, error) {
	var sum Summary
	var bullets, factChecks, ts, createdAt string
	var tag sql.NullString
	if err := scan(&sum.ID, &sum.UserID, &sum.Headline, &bullets, &tag, &factChecks, &ts, &createdAt); err != nil {
		return Summary{}, err
	}
	sum.Tag = tag.String

	if err := json.Unmarshal([]byte(bullets), &sum.BulletPoints); err != nil {
		return Summary{}, fmt.Errorf("parsing bullet_points: %w", err)
	}
	if err := json.Unmarshal([]byte(factChecks), &sum.FactChecks); err != nil {
		return Summary{}, fmt.Errorf("parsing fact_checks: %w", err)
	}

	var err error
	if sum.Timestamp, err = parseTime(ts); err != nil {
		return Summary{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	if sum.CreatedAt, err = parseTime(createdAt); err != nil {
		return Summary{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return sum, nil
}
