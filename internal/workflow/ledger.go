package workflow

import (
	"errors"
	"sort"
	"sync"

	"autosumm/internal/item"
	"autosumm/internal/services"
)

// KindInterrupted marks an item a cancelled run left in progress.
const KindInterrupted = "interrupted"

// Entry is the ledger's view of one item.
type Entry struct {
	ItemID      string      `json:"item_id"`
	Title       string      `json:"title,omitempty"`
	Status      item.Status `json:"status"`
	Stage       string      `json:"stage,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	CacheHits   int         `json:"cache_hits"`
	Invocations int         `json:"invocations"`
}

// Transition is published to the observer whenever an item changes status
// or stage.
type Transition struct {
	ItemID    string
	Status    item.Status
	Stage     string
	ErrorKind string
	Message   string
}

// Observer receives ledger transitions. It is called without the ledger
// lock held.
type Observer func(Transition)

// Ledger is the in-memory record of where every item of a run stands. It is
// safe for concurrent use and lives only as long as the run.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	order    []string
	observer Observer
}

// NewLedger returns an empty ledger. The observer may be nil.
func NewLedger(observer Observer) *Ledger {
	return &Ledger{entries: map[string]*Entry{}, observer: observer}
}

// Track adds an item as pending. Items already tracked are left alone.
func (l *Ledger) Track(w *item.WorkItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[w.ID]; ok {
		return
	}
	l.entries[w.ID] = &Entry{ItemID: w.ID, Title: w.Title, Status: item.StatusPending}
	l.order = append(l.order, w.ID)
}

// Status returns the current status of an item, or "" if it is untracked.
func (l *Ledger) Status(id string) item.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return e.Status
	}
	return ""
}

// Entry returns a copy of the item's ledger entry.
func (l *Ledger) Entry(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Begin marks an item in progress at stage.
func (l *Ledger) Begin(id, stage string) {
	l.update(id, func(e *Entry) bool {
		changed := e.Status != item.StatusInProgress || e.Stage != stage
		e.Status = item.StatusInProgress
		e.Stage = stage
		e.ErrorKind = ""
		e.Message = ""
		return changed
	})
}

// CacheHit counts a stage served from the cache.
func (l *Ledger) CacheHit(id string) {
	l.update(id, func(e *Entry) bool {
		e.CacheHits++
		return false
	})
}

// Invoked counts a stage that ran its executor.
func (l *Ledger) Invoked(id string) {
	l.update(id, func(e *Entry) bool {
		e.Invocations++
		return false
	})
}

// Succeed marks an item as having passed every stage it was given.
func (l *Ledger) Succeed(id string) {
	l.update(id, func(e *Entry) bool {
		e.Status = item.StatusSucceeded
		return true
	})
}

// Fail marks an item failed at stage. It will not be re-entered this run.
func (l *Ledger) Fail(id, stage string, err error) {
	l.update(id, func(e *Entry) bool {
		e.Status = item.StatusFailed
		e.Stage = stage
		e.ErrorKind = services.KindOf(err)
		if err != nil {
			e.Message = rootMessage(err)
		}
		return true
	})
}

// Skip marks an item skipped for reason. It will not be re-entered this run.
func (l *Ledger) Skip(id, reason string) {
	l.update(id, func(e *Entry) bool {
		e.Status = item.StatusSkipped
		e.ErrorKind = ""
		e.Message = reason
		return true
	})
}

// Interrupt records that cancellation stopped an item at stage. The item
// stays in progress so the next run resumes it.
func (l *Ledger) Interrupt(id, stage string) {
	l.update(id, func(e *Entry) bool {
		e.Status = item.StatusInProgress
		e.Stage = stage
		e.ErrorKind = KindInterrupted
		e.Message = "run cancelled before the stage finished"
		return true
	})
}

func (l *Ledger) update(id string, mutate func(*Entry) bool) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	publish := mutate(e)
	t := Transition{ItemID: e.ItemID, Status: e.Status, Stage: e.Stage, ErrorKind: e.ErrorKind, Message: e.Message}
	observer := l.observer
	l.mu.Unlock()

	if publish && observer != nil {
		observer(t)
	}
}

// Totals counts items per status plus cache and invocation totals.
type Totals struct {
	Items       int `json:"items"`
	Pending     int `json:"pending"`
	InProgress  int `json:"in_progress"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	CacheHits   int `json:"cache_hits"`
	Invocations int `json:"invocations"`
}

// Manifest is the end-of-run summary.
type Manifest struct {
	Items  []Entry `json:"items"`
	Totals Totals  `json:"totals"`
}

// Failed returns the entries of failed items.
func (m Manifest) Failed() []Entry {
	var out []Entry
	for _, e := range m.Items {
		if e.Status == item.StatusFailed {
			out = append(out, e)
		}
	}
	return out
}

// Manifest returns every tracked item in discovery order with totals.
// Failed items sort first so they stand out.
func (l *Ledger) Manifest() Manifest {
	l.mu.Lock()
	items := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		items = append(items, *l.entries[id])
	}
	l.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		return statusRank(items[i].Status) < statusRank(items[j].Status)
	})

	var totals Totals
	for _, e := range items {
		totals.Items++
		totals.CacheHits += e.CacheHits
		totals.Invocations += e.Invocations
		switch e.Status {
		case item.StatusPending:
			totals.Pending++
		case item.StatusInProgress:
			totals.InProgress++
		case item.StatusSucceeded:
			totals.Succeeded++
		case item.StatusFailed:
			totals.Failed++
		case item.StatusSkipped:
			totals.Skipped++
		}
	}
	return Manifest{Items: items, Totals: totals}
}

func statusRank(s item.Status) int {
	switch s {
	case item.StatusFailed:
		return 0
	case item.StatusInProgress:
		return 1
	case item.StatusPending:
		return 2
	case item.StatusSucceeded:
		return 3
	default:
		return 4
	}
}

// rootMessage reports the innermost cause of a stage error, which is what
// an operator needs in the manifest.
func rootMessage(err error) string {
	var fatal *services.StageFatalError
	if errors.As(err, &fatal) && fatal.Err != nil {
		return fatal.Err.Error()
	}
	var exhausted *services.StageExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		return exhausted.Err.Error()
	}
	return err.Error()
}
