package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	note_id        TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	body           TEXT NOT NULL,
	version        INTEGER NOT NULL,
	synced_version INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	session_id  TEXT NOT NULL,
	position    INTEGER NOT NULL,
	segment_id  TEXT NOT NULL,
	text        TEXT NOT NULL,
	speaker     TEXT,
	confidence  REAL,
	is_final    INTEGER NOT NULL,
	received_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, position)
);
`

// Store is the local journal for notes drafts and finished transcripts.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.DraftJournal = (*Store)(nil)

// Draft is a journaled notes document and whether the backend has it.
type Draft struct {
	domain.NotesDocument
	SyncedVersion int
	UpdatedAt     time.Time
}

func (d Draft) Synced() bool {
	return d.SyncedVersion >= d.Version
}

// DefaultPath returns the journal location inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "livenotes.sqlite")
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDraft records the latest local content of a note. An older version
// never overwrites a newer one.
func (s *Store) SaveDraft(ctx context.Context, doc domain.NotesDocument) error {
	if doc.NoteID == "" {
		return errors.New("save draft: note id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (note_id, title, body, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE excluded.version >= drafts.version
	`, doc.NoteID, doc.Title, doc.Body, doc.Version, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// MarkDraftSynced notes that version has reached the backend. Older versions
// never move the marker backwards.
func (s *Store) MarkDraftSynced(ctx context.Context, noteID string, version int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET synced_version = MAX(synced_version, ?) WHERE note_id = ?
	`, version, noteID)
	if err != nil {
		return fmt.Errorf("mark draft synced: %w", err)
	}
	return nil
}

// LoadDraft returns the journaled draft, or nil when none exists.
func (s *Store) LoadDraft(ctx context.Context, noteID string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT note_id, title, body, version, synced_version, updated_at
		FROM drafts
		WHERE note_id = ?
	`, noteID)

	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// UnsyncedDrafts lists drafts whose latest version never reached the backend.
func (s *Store) UnsyncedDrafts(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note_id, title, body, version, synced_version, updated_at
		FROM drafts
		WHERE synced_version < version
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

// PendingNotes returns the unsynced drafts as documents.
func (s *Store) PendingNotes(ctx context.Context) ([]domain.NotesDocument, error) {
	drafts, err := s.UnsyncedDrafts(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(drafts, func(d Draft, _ int) domain.NotesDocument {
		return d.NotesDocument
	}), nil
}

// SaveTranscript replaces the stored transcript for sessionID.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, items []domain.TranscriptItem) error {
	if sessionID == "" {
		return errors.New("save transcript: session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transcript tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_segments
			(session_id, position, segment_id, text, speaker, confidence, is_final, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare transcript insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		speaker := sql.NullString{String: item.Speaker, Valid: item.Speaker != ""}
		var confidence sql.NullFloat64
		if item.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *item.Confidence, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sessionID, i, item.SegmentID, item.Text,
			speaker, confidence, item.IsFinal, item.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert segment %s: %w", item.SegmentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

// LoadTranscript returns the stored transcript in its original order.
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]domain.TranscriptItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, text, speaker, confidence, is_final, received_at
		FROM transcript_segments
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var items []domain.TranscriptItem
	for rows.Next() {
		var item domain.TranscriptItem
		var speaker sql.NullString
		var confidence sql.NullFloat64
		var receivedAt int64
		if err := rows.Scan(&item.SegmentID, &item.Text, &speaker, &confidence,
			&item.IsFinal, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		item.Speaker = speaker.String
		if confidence.Valid {
			value := confidence.Float64
			item.Confidence = &value
		}
		item.Timestamp = time.UnixMilli(receivedAt).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (Draft, error) {
	var draft Draft
	var updatedAt int64
	if err := row.Scan(&draft.NoteID, &draft.Title, &draft.Body, &draft.Version,
		&draft.SyncedVersion, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, err
		}
		return Draft{}, fmt.Errorf("scan draft: %w", err)
	}
	draft.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return draft, nil
}
