// Package worker implements the per-item sourcing pipeline: the strategy
// sequencer, the item processor and the resumable run loop.
package worker

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// Run carries the state shared by every item of one run invocation.
type Run struct {
	ID      uuid.UUID
	State   sourcing.ResumeState
	Emitter progress.Emitter
	Publish bool
	Clock   sourcing.Clock
}

// Summary tallies the terminal outcomes of a run.
type Summary struct {
	RunID     uuid.UUID `json:"run_id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Published int       `json:"published"`
}

func (s *Summary) add(o sourcing.Outcome) {
	s.Total++
	switch o.Status {
	case sourcing.StatusSuccess:
		s.Succeeded++
	case sourcing.StatusFailed:
		s.Failed++
	case sourcing.StatusSkipped:
		s.Skipped++
	}
	if o.Publication.Published() {
		s.Published++
	}
}

// itemReporter stamps run and item fields onto events before forwarding them.
type itemReporter struct {
	out   progress.Emitter
	runID [16]byte
	now   func() time.Time
	sku   string
	name  string
}

func (r *Run) reporter(item sourcing.CatalogItem) itemReporter {
	out := r.Emitter
	if out == nil {
		out = progress.Discard
	}
	now := func() time.Time { return time.Now().UTC() }
	if r.Clock != nil {
		now = r.Clock.Now
	}
	return itemReporter{
		out:   out,
		runID: progress.UUIDToBytes(r.ID),
		now:   now,
		sku:   item.SKU,
		name:  item.Name,
	}
}

// Emit implements progress.Emitter.
func (r itemReporter) Emit(evt progress.Event) {
	evt.RunID = r.runID
	evt.TS = r.now()
	evt.SKU = r.sku
	evt.Name = r.name
	r.out.Emit(evt)
}

func emitPhase(emit progress.Emitter, phase progress.Phase, message string) {
	emit.Emit(progress.Event{Phase: phase, Message: message})
}
