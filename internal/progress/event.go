// Package progress defines the event structures emitted while a catalog is
// being sourced.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase denotes which step of item processing an Event reports.
type Phase string

// Supported phases. Skipped, Success and Failed are terminal for an item.
const (
	PhaseSearching         Phase = "Searching"
	PhaseDownloading       Phase = "Downloading"
	PhaseCheckingDuplicate Phase = "CheckingDuplicate"
	PhaseUploading         Phase = "Uploading"
	PhaseAssigning         Phase = "Assigning"
	PhaseSkipped           Phase = "Skipped"
	PhaseWaiting           Phase = "Waiting"
	PhaseSuccess           Phase = "Success"
	PhaseFailed            Phase = "Failed"
	PhaseError             Phase = "Error"
)

// Terminal reports whether the phase closes out an item's sourcing.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSkipped, PhaseSuccess, PhaseFailed:
		return true
	default:
		return false
	}
}

// Event captures one step of catalog progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// SKU correlates the event to a catalog item.
	SKU  string
	Name string
	// Phase denotes which step occurred.
	Phase Phase
	// Message is the human-readable status line.
	Message string
	// Score is the match score; only meaningful on Downloading and Success.
	Score         int
	SourceURL     string
	SavedFilename string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Phase {
	case PhaseSearching, PhaseDownloading, PhaseCheckingDuplicate, PhaseUploading,
		PhaseAssigning, PhaseSkipped, PhaseWaiting, PhaseSuccess, PhaseFailed, PhaseError:
	default:
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	if e.SKU == "" {
		return errors.New("sku is required")
	}
	if e.Score < 0 || e.Score > 100 {
		return fmt.Errorf("score %d out of range", e.Score)
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Record is the JSON wire form of an Event.
type Record struct {
	RunID         string    `json:"run_id"`
	TS            time.Time `json:"ts"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name,omitempty"`
	Phase         Phase     `json:"phase"`
	Message       string    `json:"message"`
	Score         int       `json:"score,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	SavedFilename string    `json:"saved_filename,omitempty"`
}

// Record converts the event for JSON encoding.
func (e Event) Record() Record {
	return Record{
		RunID:         e.RunUUID().String(),
		TS:            e.TS,
		SKU:           e.SKU,
		Name:          e.Name,
		Phase:         e.Phase,
		Message:       e.Message,
		Score:         e.Score,
		SourceURL:     e.SourceURL,
		SavedFilename: e.SavedFilename,
	}
}
