package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const insertFragmentSQL = `
	INSERT INTO fragments (id, user_id, segment_id, speaker, text, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectFragmentSQL = `
	SELECT id, user_id, segment_id, speaker, text, timestamp, created_at,
	       locked, lock_timestamp, processed_at, processing_attempts
	FROM fragments`

// AppendFragment stages one transcript segment for summarization. New
// fragments are always unprocessed with a zero attempt count.
func (s *Store) AppendFragment(f Fragment) error {
	_, err := s.db.Exec(insertFragmentSQL,
		f.ID, f.UserID, f.SegmentID, f.Speaker, f.Text,
		fmtTime(f.Timestamp), fmtTime(f.CreatedAt),
	)
	return err
}

// EarliestUnprocessed returns the arrival time of the user's oldest pending
// fragment. The second return is false if the user has no backlog.
func (s *Store) EarliestUnprocessed(userID string) (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRow(`
		SELECT timestamp FROM fragments
		WHERE user_id = ? AND processed_at IS NULL
		ORDER BY timestamp ASC LIMIT 1`, userID,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, true, nil
}

// UnprocessedWindow returns the user's pending fragments with arrival time
// in [start, end), ordered ascending. The first fragment's timestamp
// becomes the chronological anchor of the resulting summary, so the
// ordering here is load-bearing. Fragments locked by an in-flight attempt
// are excluded, which keeps a fragment visible to at most one attempt even
// if windows ever run concurrently; a crashed worker's locks reappear once
// ReleaseStaleLocks ages them out.
func (s *Store) UnprocessedWindow(userID string, start, end time.Time) ([]Fragment, error) {
	rows, err := s.db.Query(selectFragmentSQL+`
		WHERE user_id = ? AND processed_at IS NULL AND locked = 0
		AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		userID, fmtTime(start), fmtTime(end),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

// HasUnprocessedSince reports whether any pending fragment arrived at or
// after t. The chunker's drain loop uses this probe to decide whether to
// advance to the next window.
func (s *Store) HasUnprocessedSince(userID string, t time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM fragments
		WHERE user_id = ? AND processed_at IS NULL AND timestamp >= ?
		LIMIT 1`, userID, fmtTime(t),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LockFragments marks the given fragments as in-flight. Locks carry a
// timestamp and expire by age via ReleaseStaleLocks; there is no explicit
// release from a live worker on the success path (the fragments are deleted).
func (s *Store) LockFragments(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE fragments SET locked = 1, lock_timestamp = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, fmtTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(query, args...)
	return err
}

// UnlockFragments clears lock state on the given fragments. Unlocking an
// already-unlocked or deleted fragment is a no-op.
func (s *Store) UnlockFragments(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE fragments SET locked = 0, lock_timestamp = NULL WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(query, args...)
	return err
}

// ReleaseStaleLocks clears lock state on any fragment whose lock is older
// than olderThan and returns the count released. This is the sole recovery
// path for workers that died mid-chunk; re-running it is idempotent.
func (s *Store) ReleaseStaleLocks(olderThan time.Duration) (int64, error) {
	expiry := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`
		UPDATE fragments SET locked = 0, lock_timestamp = NULL
		WHERE locked = 1 AND lock_timestamp < ?`, fmtTime(expiry))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PenalizeWindow increments the attempt counter on every pending unlocked
// fragment in [start, end) and deletes any whose counter has reached
// maxAttempts. Locked fragments belong to another in-flight attempt and are
// left alone. Eviction is deliberate bounded loss: the permanent segment
// survives, the staging copy stops blocking the buffer. Returns
// (bumped, evicted) counts.
func (s *Store) PenalizeWindow(userID string, start, end time.Time, maxAttempts int) (int64, int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("beginning penalty transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE fragments
		SET processing_attempts = processing_attempts + 1
		WHERE user_id = ? AND processed_at IS NULL AND locked = 0
		AND timestamp >= ? AND timestamp < ?`,
		userID, fmtTime(start), fmtTime(end),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("incrementing attempts: %w", err)
	}
	bumped, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.Exec(`
		DELETE FROM fragments
		WHERE user_id = ? AND processed_at IS NULL AND locked = 0
		AND timestamp >= ? AND timestamp < ?
		AND processing_attempts >= ?`,
		userID, fmtTime(start), fmtTime(end), maxAttempts,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("evicting exhausted fragments: %w", err)
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing penalty: %w", err)
	}
	return bumped, evicted, nil
}

// PendingFragments returns the oldest pending fragments across all users,
// for diagnostic inspection.
func (s *Store) PendingFragments(limit int) ([]Fragment, error) {
	rows, err := s.db.Query(selectFragmentSQL+`
		WHERE processed_at IS NULL
		ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

// BacklogByUser returns pending fragment counts per user, largest backlog first.
func (s *Store) BacklogByUser() ([]UserBacklog, error) {
	rows, err := s.db.Query(`
		SELECT user_id, COUNT(*) FROM fragments
		WHERE processed_at IS NULL
		GROUP BY user_id ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backlogs []UserBacklog
	for rows.Next() {
		var b UserBacklog
		if err := rows.Scan(&b.UserID, &b.Pending); err != nil {
			return nil, err
		}
		backlogs = append(backlogs, b)
	}
	return backlogs, rows.Err()
}

func scanFragments(rows *sql.Rows) ([]Fragment, error) {
	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		var ts, createdAt string
		var lockTS, processedAt sql.NullString
		var locked int
		if err := rows.Scan(&f.ID, &f.UserID, &f.SegmentID, &f.Speaker, &f.Text,
			&ts, &createdAt, &locked, &lockTS, &processedAt, &f.ProcessingAttempts); err != nil {
			return nil, err
		}
		f.Locked = locked != 0

		var err error
		if f.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if lockTS.Valid {
			if f.LockTimestamp, err = parseTime(lockTS.String); err != nil {
				return nil, fmt.Errorf("parsing lock_timestamp: %w", err)
			}
		}
		if processedAt.Valid {
			if f.ProcessedAt, err = parseTime(processedAt.String); err != nil {
				return nil, fmt.Errorf("parsing processed_at: %w", err)
			}
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimPrefix(strings.Repeat(",?", n), ",")
}
