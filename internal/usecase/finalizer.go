package usecase

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

// sessionFinalizer persists what a stopped session leaves behind: the notes
// document and the transcript snapshot.
type sessionFinalizer struct {
	store  ports.LocalStore
	events ports.EventSink
	log    logger.Logger
}

func newSessionFinalizer(store ports.LocalStore, events ports.EventSink, log logger.Logger) sessionFinalizer {
	return sessionFinalizer{store: store, events: events, log: log}
}

func (f sessionFinalizer) Finalize(ctx context.Context, active *activeSession) domain.StopResult {
	result := domain.StopResult{
		SessionID:    active.session.ID,
		NoteID:       active.session.NoteID,
		TranscriptID: active.session.TranscriptID,
		Segments:     active.aggregator.Len(),
	}
	if active.session.ID != "" {
		result.Route = "/meetings/" + active.session.ID
	}

	if active.notes != nil {
		// Flush reports its own failure to the UI.
		result.NotesSaved = active.notes.Flush(ctx) == nil
		active.notes.Close()
	}

	if f.store != nil && active.session.ID != "" {
		if err := f.store.SaveTranscript(ctx, active.session.ID, active.aggregator.Snapshot()); err != nil {
			f.log.Error(fmt.Sprintf("session: journal transcript %s: %v", active.session.ID, err))
			f.events.SessionError(domain.ErrorCodePersistence, "transcript could not be saved locally")
		}
	}

	return result
}
