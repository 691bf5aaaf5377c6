package usecase

import (
	"context"
	"errors"
	"testing"

	"livenotes/internal/domain"
)

type fakeJournal struct {
	*fakeStore
	pending    []domain.NotesDocument
	pendingErr error
}

func (f *fakeJournal) PendingNotes(_ context.Context) ([]domain.NotesDocument, error) {
	return f.pending, f.pendingErr
}

type selectiveAPI struct {
	fakeAPI
	failNote string
}

func (s *selectiveAPI) UpdateNote(ctx context.Context, doc domain.NotesDocument) error {
	if doc.NoteID == s.failNote {
		return errors.New("backend unavailable")
	}
	return s.fakeAPI.UpdateNote(ctx, doc)
}

func TestSyncPendingDraftsPushesAndMarks(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{
		fakeStore: newFakeStore(),
		pending: []domain.NotesDocument{
			{NoteID: "n1", Title: "A", Body: "one", Version: 3},
			{NoteID: "n2", Title: "B", Body: "two", Version: 1},
			{NoteID: "n3", Title: "C", Body: "three", Version: 5},
		},
	}
	api := &selectiveAPI{failNote: "n2"}

	synced, err := SyncPendingDrafts(context.Background(), journal, api, nopLogger{})
	if synced != 2 {
		t.Fatalf("expected 2 synced drafts, got %d", synced)
	}
	if err == nil {
		t.Fatalf("expected error for the failed draft")
	}
	if api.updateCount() != 2 {
		t.Fatalf("expected 2 updates, got %d", api.updateCount())
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if journal.synced["n1"] != 3 || journal.synced["n3"] != 5 {
		t.Fatalf("unexpected synced versions: %+v", journal.synced)
	}
	if _, ok := journal.synced["n2"]; ok {
		t.Fatalf("failed draft must stay unsynced")
	}
}

func TestSyncPendingDraftsListError(t *testing.T) {
	t.Parallel()

	journal := &fakeJournal{fakeStore: newFakeStore(), pendingErr: errors.New("disk")}
	api := &fakeAPI{}

	synced, err := SyncPendingDrafts(context.Background(), journal, api, nopLogger{})
	if synced != 0 || err == nil {
		t.Fatalf("expected list failure, got synced=%d err=%v", synced, err)
	}
	if api.updateCount() != 0 {
		t.Fatalf("expected no updates")
	}
}

func TestSyncPendingDraftsNothingPending(t *testing.T) {
	t.Parallel()

	synced, err := SyncPendingDrafts(context.Background(), &fakeJournal{fakeStore: newFakeStore()}, &fakeAPI{}, nopLogger{})
	if synced != 0 || err != nil {
		t.Fatalf("expected no-op, got synced=%d err=%v", synced, err)
	}
}
