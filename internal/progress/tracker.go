// Package progress keeps the live, per-account view of an ingestion batch.
//
// Updates for one owner are serialised behind that owner's lock; different
// owners never contend. Records live in memory only and are rebuilt by the
// next submission after a restart.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageCrawl  Stage = "crawl"
	StageMinify Stage = "minify"
	StageTrain  Stage = "train"
)

// Progress is a snapshot of one owner's active batch.
type Progress struct {
	OwnerID         string     `json:"ownerId"`
	TotalItems      int        `json:"totalItems"`
	CrawlDone       int        `json:"crawlDone"`
	MinifyDone      int        `json:"minifyDone"`
	TrainDone       int        `json:"trainDone"`
	FailedItems     int        `json:"failedItems"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	TrainingListIDs []string   `json:"trainingListIds"`
}

// Finished counts items that reached a terminal outcome.
func (p Progress) Finished() int { return p.TrainDone + p.FailedItems }

func (p Progress) Complete() bool { return p.TotalItems > 0 && p.Finished() >= p.TotalItems }

type entry struct {
	mu        sync.Mutex
	p         Progress
	listIDs   map[string]struct{}
	signalled bool
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry), now: time.Now}
}

func (t *Tracker) lookup(ownerID string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[ownerID]
}

// Init starts a fresh batch for ownerID, replacing any previous record.
func (t *Tracker) Init(ownerID string, total int) Progress {
	if total < 0 {
		total = 0
	}
	e := &entry{
		p: Progress{
			OwnerID:    ownerID,
			TotalItems: total,
			StartedAt:  t.now(),
		},
		listIDs: make(map[string]struct{}),
	}

	t.mu.Lock()
	t.entries[ownerID] = e
	t.mu.Unlock()

	return e.snapshot()
}

// Extend adds n items to ownerID's batch while it is still running.
// A finished or missing batch is replaced by a fresh one of size n.
func (t *Tracker) Extend(ownerID string, n int) Progress {
	if e := t.lookup(ownerID); e != nil {
		e.mu.Lock()
		if !e.signalled {
			e.p.TotalItems += n
			snap := e.snapshotLocked()
			e.mu.Unlock()
			return snap
		}
		e.mu.Unlock()
	}
	return t.Init(ownerID, n)
}

// Update records one stage outcome. It returns nil when ownerID has no
// active batch. justCompleted is true only on the update that brings the
// batch to completion, so callers can emit the completion event once.
func (t *Tracker) Update(ctx context.Context, ownerID string, stage Stage, success bool) (p *Progress, justCompleted bool) {
	e := t.lookup(ownerID)
	if e == nil {
		slog.DebugContext(ctx, "progress update for untracked owner", "owner_id", ownerID, "stage", stage)
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.p.TotalItems
	finished := e.p.TrainDone + e.p.FailedItems

	switch {
	case !success:
		if finished >= total {
			slog.WarnContext(ctx, "dropping failure beyond batch size", "owner_id", ownerID, "stage", stage, "total", total)
			break
		}
		e.p.FailedItems++
	case stage == StageCrawl:
		if e.p.CrawlDone < total {
			e.p.CrawlDone++
		}
	case stage == StageMinify:
		if e.p.MinifyDone < total {
			e.p.MinifyDone++
		}
	case stage == StageTrain:
		if finished >= total {
			slog.WarnContext(ctx, "dropping train success beyond batch size", "owner_id", ownerID, "total", total)
			break
		}
		e.p.TrainDone++
	}

	if !e.signalled && e.p.Complete() {
		e.signalled = true
		now := t.now()
		e.p.CompletedAt = &now
		justCompleted = true
	}

	snap := e.snapshotLocked()
	return &snap, justCompleted
}

// Get returns a snapshot of ownerID's batch.
func (t *Tracker) Get(ownerID string) (Progress, bool) {
	e := t.lookup(ownerID)
	if e == nil {
		return Progress{}, false
	}
	return e.snapshot(), true
}

// AddTrainingListID records an item id as part of the batch. Repeats are
// ignored.
func (t *Tracker) AddTrainingListID(ownerID, itemID string) {
	e := t.lookup(ownerID)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listIDs[itemID]; ok {
		return
	}
	e.listIDs[itemID] = struct{}{}
	e.p.TrainingListIDs = append(e.p.TrainingListIDs, itemID)
}

// Clear drops ownerID's record.
func (t *Tracker) Clear(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, ownerID)
}

// ClearAfter drops the record that is current now once grace has elapsed.
// A batch started in the meantime is left untouched.
func (t *Tracker) ClearAfter(ownerID string, grace time.Duration) *time.Timer {
	current := t.lookup(ownerID)
	return time.AfterFunc(grace, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if e, ok := t.entries[ownerID]; ok && e == current {
			delete(t.entries, ownerID)
		}
	})
}

func (e *entry) snapshot() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() Progress {
	p := e.p
	p.TrainingListIDs = append([]string(nil), e.p.TrainingListIDs...)
	if p.TrainingListIDs == nil {
		p.TrainingListIDs = []string{}
	}
	if e.p.CompletedAt != nil {
		at := *e.p.CompletedAt
		p.CompletedAt = &at
	}
	return p
}
