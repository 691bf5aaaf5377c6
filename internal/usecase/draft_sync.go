package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/ports"
)

// SyncPendingDrafts pushes journaled notes that never reached the backend,
// usually because the app quit before the last autosave. It returns how many
// drafts were synced; failures are collected and the rest still run.
func SyncPendingDrafts(ctx context.Context, journal ports.DraftJournal, api ports.SessionAPI, log logger.Logger) (int, error) {
	pending, err := journal.PendingNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending drafts: %w", err)
	}

	synced := 0
	var errs []error
	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := api.UpdateNote(ctx, doc); err != nil {
			log.Warning(fmt.Sprintf("notes: resync of %s failed: %v", doc.NoteID, err))
			errs = append(errs, fmt.Errorf("note %s: %w", doc.NoteID, err))
			continue
		}
		if err := journal.MarkDraftSynced(ctx, doc.NoteID, doc.Version); err != nil {
			errs = append(errs, fmt.Errorf("note %s: %w", doc.NoteID, err))
			continue
		}
		synced++
	}
	if synced > 0 {
		log.Info(fmt.Sprintf("notes: resynced %d pending draft(s)", synced))
	}
	return synced, errors.Join(errs...)
}
