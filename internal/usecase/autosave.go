package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

const DefaultAutosaveInterval = 30 * time.Second

var errAutosaveClosed = errors.New("notes are no longer editable")

// autosaveBridge owns the notes document of one session. Every edit is
// journaled locally and re-arms a debounced flush to the backend.
type autosaveBridge struct {
	api    ports.SessionAPI
	store  ports.LocalStore
	events ports.EventSink
	log    logger.Logger
	now    func() time.Time

	debounced func(f func())
	flushMu   sync.Mutex

	mu           sync.Mutex
	doc          domain.NotesDocument
	savedVersion int
	closed       bool
}

func newAutosaveBridge(
	api ports.SessionAPI,
	store ports.LocalStore,
	events ports.EventSink,
	log logger.Logger,
	doc domain.NotesDocument,
	interval time.Duration,
) *autosaveBridge {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &autosaveBridge{
		api:          api,
		store:        store,
		events:       events,
		log:          log,
		now:          time.Now,
		debounced:    debounce.New(interval),
		doc:          doc,
		savedVersion: doc.Version,
	}
}

func (b *autosaveBridge) Edit(body string) error {
	return b.update(func(doc *domain.NotesDocument) { doc.Body = body })
}

func (b *autosaveBridge) Rename(title string) error {
	return b.update(func(doc *domain.NotesDocument) { doc.Title = title })
}

func (b *autosaveBridge) Document() domain.NotesDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc
}

func (b *autosaveBridge) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Version > b.savedVersion
}

func (b *autosaveBridge) update(apply func(doc *domain.NotesDocument)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errAutosaveClosed
	}
	apply(&b.doc)
	b.doc.Version++
	// Journal under the lock so rows land in version order.
	if b.store != nil {
		if err := b.store.SaveDraft(context.Background(), b.doc); err != nil {
			b.log.Warning(fmt.Sprintf("autosave: journal draft %s: %v", b.doc.NoteID, err))
		}
	}
	b.mu.Unlock()

	b.debounced(b.fire)
	return nil
}

func (b *autosaveBridge) fire() {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	_ = b.Flush(context.Background())
}

// Flush pushes the current content if it changed since the last successful
// save. Flushes never overlap; a failed flush keeps the content dirty.
func (b *autosaveBridge) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	snapshot := b.doc
	dirty := b.doc.Version > b.savedVersion
	b.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := b.api.UpdateNote(ctx, snapshot); err != nil {
		b.log.Error(fmt.Sprintf("autosave: save note %s: %v", snapshot.NoteID, err))
		b.events.SessionError(domain.ErrorCodePersistence, fmt.Sprintf("failed to save notes: %v", err))
		return err
	}

	b.mu.Lock()
	if snapshot.Version > b.savedVersion {
		b.savedVersion = snapshot.Version
	}
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.MarkDraftSynced(ctx, snapshot.NoteID, snapshot.Version); err != nil {
			b.log.Warning(fmt.Sprintf("autosave: mark draft %s synced: %v", snapshot.NoteID, err))
		}
	}
	b.events.NotesSaved(snapshot.NoteID, b.now())
	return nil
}

// Close disarms the pending timer. Edits after Close are rejected; an explicit
// Flush still works.
func (b *autosaveBridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.debounced(func() {})
}
