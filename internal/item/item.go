package item

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Status is the per-item lifecycle state within a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// ParseStatus converts a persisted value back to a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.TrimSpace(s))
	switch status {
	case StatusPending, StatusInProgress, StatusSucceeded, StatusFailed, StatusSkipped:
		return status, nil
	}
	return "", fmt.Errorf("unknown item status %q", s)
}

// Terminal reports whether no further stage may run for an item in this state.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusSkipped
}

// WorkItem is one paper flowing through the pipeline.
type WorkItem struct {
	ID          string
	Revision    string
	Title       string
	Authors     []string
	Category    string
	Abstract    string
	AbstractURL string
	PDFURL      string
	PublishedAt time.Time

	// Payloads holds the result of every completed stage, keyed by stage name.
	Payloads map[string]Payload
	// Chain lists the fingerprint tokens of completed enabled stages in order.
	Chain []string
}

// New returns a WorkItem with an initialized payload map. A blank revision
// defaults to v1.
func New(id, revision string) *WorkItem {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		revision = "v1"
	}
	return &WorkItem{ID: strings.TrimSpace(id), Revision: revision, Payloads: map[string]Payload{}}
}

// Identity is the cache identity of the item: a new revision of a paper is a
// different document.
func (w *WorkItem) Identity() string {
	return w.ID + "@" + w.Revision
}

// SetPayload records the result of a stage.
func (w *WorkItem) SetPayload(p Payload) {
	if w.Payloads == nil {
		w.Payloads = map[string]Payload{}
	}
	w.Payloads[p.Stage] = p
}

// Payload returns the result of a stage, if it completed.
func (w *WorkItem) Payload(stage string) (Payload, bool) {
	p, ok := w.Payloads[stage]
	return p, ok
}

// Text returns the text payload of the first listed stage that produced one.
func (w *WorkItem) Text(stages ...string) (string, bool) {
	for _, stage := range stages {
		if p, ok := w.Payloads[stage]; ok && p.Kind == KindText {
			return p.Text, true
		}
	}
	return "", false
}

// ScoreValue returns the numeric score of a scoring stage.
func (w *WorkItem) ScoreValue(stage string) (float64, bool) {
	p, ok := w.Payloads[stage]
	if !ok || p.Kind != KindScore || p.Score == nil {
		return 0, false
	}
	return p.Score.Value, true
}

// Clone returns a deep copy of the item.
func (w *WorkItem) Clone() *WorkItem {
	out := *w
	out.Authors = slices.Clone(w.Authors)
	out.Chain = slices.Clone(w.Chain)
	out.Payloads = maps.Clone(w.Payloads)
	if out.Payloads == nil {
		out.Payloads = map[string]Payload{}
	}
	return &out
}
