package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for users, transcripts,
// the fragment staging buffer, and summaries.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "earshot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Timestamps are stored as second-precision UTC RFC3339 strings so that
// lexicographic comparison in SQL matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// --- Users ---

func (s *Store) CreateUser(u User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, uid, email, timezone, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.UID, u.Email, u.Timezone, fmtTime(u.CreatedAt),
	)
	return err
}

func (s *Store) GetUserByUID(uid string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, uid, email, timezone, created_at FROM users WHERE uid = ?`, uid))
}

func (s *Store) GetUser(id string) (User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, uid, email, timezone, created_at FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.UID, &u.Email, &u.Timezone, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

// ListUsers returns all known users ordered by creation time. The
// summarization tick iterates this list.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, uid, email, timezone, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.UID, &u.Email, &u.Timezone, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Transcripts ---

// IngestTranscript records one webhook delivery: the raw session, its
// permanent segments, and a staging fragment per segment, atomically.
func (s *Store) IngestTranscript(sess Session, segments []Segment, fragments []Fragment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, user_id, session_id, host, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.SessionID, sess.Host, sess.RawJSON, fmtTime(sess.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO segments (id, session_id, user_id, text, speaker, speaker_id, is_user, start_time, end_time, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			seg.ID, seg.SessionID, seg.UserID, seg.Text, seg.Speaker, seg.SpeakerID,
			boolToInt(seg.IsUser), seg.StartTime, seg.EndTime, fmtTime(seg.Timestamp),
		); err != nil {
			return fmt.Errorf("inserting segment: %w", err)
		}
	}

	for _, f := range fragments {
		if _, err := tx.Exec(insertFragmentSQL,
			f.ID, f.UserID, f.SegmentID, f.Speaker, f.Text,
			fmtTime(f.Timestamp), fmtTime(f.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting fragment: %w", err)
		}
	}

	return tx.Commit()
}

// SegmentsBySummary returns the permanent segments folded into a summary,
// ordered by timestamp.
func (s *Store) SegmentsBySummary(summaryID string) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, user_id, text, speaker, speaker_id, is_user, start_time, end_time, timestamp, summary_id, processed
		FROM segments WHERE summary_id = ? ORDER BY timestamp ASC`, summaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var ts string
		var summaryID sql.NullString
		var isUser, processed int
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.UserID, &seg.Text, &seg.Speaker,
			&seg.SpeakerID, &isUser, &seg.StartTime, &seg.EndTime, &ts, &summaryID, &processed); err != nil {
			return nil, err
		}
		seg.IsUser = isUser != 0
		seg.Processed = processed != 0
		seg.SummaryID = summaryID.String
		if seg.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
