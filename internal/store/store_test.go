package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"livenotes/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "data", "journal.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDraftJournal(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if draft, err := s.LoadDraft(ctx, "n1"); err != nil || draft != nil {
		t.Fatalf("expected no draft, got %+v err=%v", draft, err)
	}

	if err := s.SaveDraft(ctx, domain.NotesDocument{NoteID: "n1", Title: "T", Body: "one", Version: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveDraft(ctx, domain.NotesDocument{NoteID: "n1", Title: "T2", Body: "two", Version: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}

	draft, err := s.LoadDraft(ctx, "n1")
	if err != nil || draft == nil {
		t.Fatalf("load: %+v err=%v", draft, err)
	}
	if draft.Body != "two" || draft.Title != "T2" || draft.Version != 2 || draft.Synced() {
		t.Fatalf("unexpected draft: %+v", draft)
	}
	if !draft.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected updated_at: %v", draft.UpdatedAt)
	}

	unsynced, err := s.UnsyncedDrafts(ctx)
	if err != nil || len(unsynced) != 1 {
		t.Fatalf("expected one unsynced draft, got %d err=%v", len(unsynced), err)
	}
	pending, err := s.PendingNotes(ctx)
	if err != nil || len(pending) != 1 || pending[0].NoteID != "n1" || pending[0].Version != 2 {
		t.Fatalf("unexpected pending notes: %+v err=%v", pending, err)
	}

	if err := s.MarkDraftSynced(ctx, "n1", 2); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkDraftSynced(ctx, "n1", 1); err != nil {
		t.Fatalf("mark: %v", err)
	}
	draft, _ = s.LoadDraft(ctx, "n1")
	if !draft.Synced() || draft.SyncedVersion != 2 {
		t.Fatalf("expected synced draft, got %+v", draft)
	}
	if unsynced, _ := s.UnsyncedDrafts(ctx); len(unsynced) != 0 {
		t.Fatalf("expected no unsynced drafts, got %d", len(unsynced))
	}

	if err := s.SaveDraft(ctx, domain.NotesDocument{NoteID: "n1", Title: "T3", Body: "three", Version: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveDraft(ctx, domain.NotesDocument{NoteID: "n1", Title: "T2", Body: "stale", Version: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if draft, _ := s.LoadDraft(ctx, "n1"); draft.Body != "three" || draft.Version != 3 {
		t.Fatalf("older version overwrote newer draft: %+v", draft)
	}

	if err := s.SaveDraft(ctx, domain.NotesDocument{}); err == nil {
		t.Fatalf("expected error for missing note id")
	}
}

func TestTranscriptSnapshotReplacesPrevious(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	confidence := 0.93

	first := []domain.TranscriptItem{
		{SegmentID: "a", Text: "hel", Timestamp: at},
	}
	if err := s.SaveTranscript(ctx, "s1", first); err != nil {
		t.Fatalf("save: %v", err)
	}

	final := []domain.TranscriptItem{
		{SegmentID: "a", Text: "hello", Timestamp: at, Speaker: "A", Confidence: &confidence, IsFinal: true},
		{SegmentID: "b", Text: "world", Timestamp: at.Add(time.Second), IsFinal: true},
	}
	if err := s.SaveTranscript(ctx, "s1", final); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveTranscript(ctx, "s2", first); err != nil {
		t.Fatalf("save: %v", err)
	}

	items, err := s.LoadTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Text != "hello" || items[0].Speaker != "A" || !items[0].IsFinal || items[0].Confidence == nil || *items[0].Confidence != confidence {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].SegmentID != "b" || items[1].Confidence != nil || !items[1].Timestamp.Equal(at.Add(time.Second)) {
		t.Fatalf("unexpected second item: %+v", items[1])
	}

	if err := s.SaveTranscript(ctx, "", first); err == nil {
		t.Fatalf("expected error for missing session id")
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := DefaultPath(t.TempDir())
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveDraft(context.Background(), domain.NotesDocument{NoteID: "n1", Body: "kept", Version: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	draft, err := reopened.LoadDraft(context.Background(), "n1")
	if err != nil || draft == nil || draft.Body != "kept" {
		t.Fatalf("expected kept draft, got %+v err=%v", draft, err)
	}
}
