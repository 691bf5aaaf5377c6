package usecase

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"livenotes/internal/domain"
	"livenotes/internal/protocol"
)

// transcriptAggregator keeps the ordered transcript for one session. A segment
// id appears at most once; later messages replace earlier ones in place.
type transcriptAggregator struct {
	mu    sync.Mutex
	items []domain.TranscriptItem
	index map[string]int
	newID func(arrival time.Time) string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{
		index: make(map[string]int),
		newID: localSegmentID,
	}
}

// Apply merges one transcript message and reports where it landed.
func (a *transcriptAggregator) Apply(data protocol.TranscriptData, isFinal bool, arrival time.Time) domain.TranscriptUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := strings.TrimSpace(string(data.SegmentID))
	if id == "" {
		id = a.newID(arrival)
	}

	item := domain.TranscriptItem{
		SegmentID:  id,
		Text:       data.Text,
		Timestamp:  arrival,
		Speaker:    data.Speaker,
		Confidence: data.Confidence,
		IsFinal:    isFinal || data.IsFinal,
	}

	if pos, ok := a.index[id]; ok {
		item.Timestamp = a.items[pos].Timestamp
		a.items[pos] = item
		return domain.TranscriptUpdate{Item: item, Index: pos, Replaced: true}
	}

	a.items = append(a.items, item)
	a.index[id] = len(a.items) - 1
	return domain.TranscriptUpdate{Item: item, Index: len(a.items) - 1}
}

func (a *transcriptAggregator) Snapshot() []domain.TranscriptItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.TranscriptItem(nil), a.items...)
}

func (a *transcriptAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// localSegmentID names a segment the server sent without an id. UUIDv7 keeps
// the arrival order visible in the id itself.
func localSegmentID(arrival time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		return "local-" + strconv.FormatInt(arrival.UnixNano(), 10)
	}
	return "local-" + id.String()
}
