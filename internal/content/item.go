// Package content defines content items and their processing lifecycle.
package content

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Kind string

const (
	KindWebPage Kind = "web_page"
	KindFile    Kind = "file"
	KindSnippet Kind = "snippet"
	KindFAQ     Kind = "faq"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWebPage, KindFile, KindSnippet, KindFAQ:
		return true
	}
	return false
}

type Stage string

const (
	StageCrawl  Stage = "crawl"
	StageMinify Stage = "minify"
	StageTrain  Stage = "train"
)

type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
	StageFailed  StageStatus = "failed"
)

// Status is the item-level outcome. Every value except Queued is terminal.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusMapped              Status = "mapped"
	StatusFailed              Status = "failed"
	StatusInsufficientCredits Status = "insufficient_credits"
	StatusSkipped             Status = "skipped"
)

func (s Status) Terminal() bool { return s != StatusQueued && s != "" }

var (
	ErrTerminal     = errors.New("item already finished")
	ErrUnknownStage = errors.New("stage not part of item pipeline")
	ErrInvalidItem  = errors.New("invalid content item")
)

// SourceRef points at the material an item is built from. Which fields are
// set depends on the item kind.
type SourceRef struct {
	URL      string `json:"url,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

type StageTimes struct {
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type Item struct {
	ID         string                `json:"id"`
	OwnerID    string                `json:"ownerId"`
	Kind       Kind                  `json:"kind"`
	Source     SourceRef             `json:"source"`
	Stages     map[Stage]StageStatus `json:"stages"`
	Timestamps map[Stage]StageTimes  `json:"timestamps"`
	Status     Status                `json:"status"`
	Title      string                `json:"title,omitempty"`
	Summary    string                `json:"summary,omitempty"`
	Error      string                `json:"error,omitempty"`
	RawSource  string                `json:"-"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// Pipeline lists the stages a kind passes through, in order.
func Pipeline(kind Kind) []Stage {
	if kind == KindWebPage {
		return []Stage{StageCrawl, StageMinify, StageTrain}
	}
	return []Stage{StageTrain}
}

// NewItem returns a Queued item with every stage pending.
func NewItem(id, ownerID string, kind Kind, src SourceRef, now time.Time) *Item {
	it := &Item{
		ID:         id,
		OwnerID:    ownerID,
		Kind:       kind,
		Source:     src,
		Stages:     make(map[Stage]StageStatus),
		Timestamps: make(map[Stage]StageTimes),
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, s := range Pipeline(kind) {
		it.Stages[s] = StagePending
	}
	return it
}

// Validate checks that src carries what kind needs.
func Validate(kind Kind, src SourceRef) error {
	switch kind {
	case KindWebPage:
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: web page needs an absolute http(s) url", ErrInvalidItem)
		}
	case KindFile:
		if src.FilePath == "" {
			return fmt.Errorf("%w: file item needs a path", ErrInvalidItem)
		}
	case KindSnippet:
		if strings.TrimSpace(src.Text) == "" {
			return fmt.Errorf("%w: snippet text is empty", ErrInvalidItem)
		}
	case KindFAQ:
		if strings.TrimSpace(src.Question) == "" || strings.TrimSpace(src.Answer) == "" {
			return fmt.Errorf("%w: faq needs a question and an answer", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, kind)
	}
	return nil
}

// FAQText renders a question and answer pair as embedded text.
func FAQText(question, answer string) string {
	return "Question: " + question + "\nAnswer: " + answer
}

// Derive computes the item status from its stage map. Early exits
// (insufficient credits, skipped) are not derivable and are set by Finish.
func Derive(kind Kind, stages map[Stage]StageStatus) Status {
	pipeline := Pipeline(kind)
	for _, s := range pipeline {
		if stages[s] == StageFailed {
			return StatusFailed
		}
	}
	if stages[pipeline[len(pipeline)-1]] == StageDone {
		return StatusMapped
	}
	return StatusQueued
}

func (it *Item) Terminal() bool { return it.Status.Terminal() }

// Clone returns a copy that shares no maps with it.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Stages = make(map[Stage]StageStatus, len(it.Stages))
	for k, v := range it.Stages {
		cp.Stages[k] = v
	}
	cp.Timestamps = make(map[Stage]StageTimes, len(it.Timestamps))
	for k, v := range it.Timestamps {
		cp.Timestamps[k] = v
	}
	return &cp
}

func (it *Item) StageStatus(s Stage) StageStatus { return it.Stages[s] }

// Start marks stage as running.
func (it *Item) Start(s Stage, now time.Time) error {
	if err := it.mutable(s); err != nil {
		return err
	}
	it.Stages[s] = StageRunning
	ts := it.Timestamps[s]
	ts.StartedAt = &now
	ts.FinishedAt = nil
	it.Timestamps[s] = ts
	it.touch(now)
	return nil
}

// Complete marks stage as done.
func (it *Item) Complete(s Stage, now time.Time) error {
	return it.finishStage(s, StageDone, "", now)
}

// Fail marks stage as failed, which makes the item Failed.
func (it *Item) Fail(s Stage, reason string, now time.Time) error {
	return it.finishStage(s, StageFailed, reason, now)
}

// Finish ends the item early with outcome, which must be
// StatusInsufficientCredits or StatusSkipped.
func (it *Item) Finish(outcome Status, reason string, now time.Time) error {
	if outcome != StatusInsufficientCredits && outcome != StatusSkipped {
		return fmt.Errorf("%w: %s is not an early outcome", ErrInvalidItem, outcome)
	}
	if it.Terminal() {
		return fmt.Errorf("%s: %w", it.ID, ErrTerminal)
	}
	for s, st := range it.Stages {
		if st == StageRunning || st == StagePending {
			ts := it.Timestamps[s]
			if ts.StartedAt != nil {
				ts.FinishedAt = &now
				it.Timestamps[s] = ts
			}
		}
	}
	it.Status = outcome
	it.Error = reason
	it.touch(now)
	return nil
}

func (it *Item) finishStage(s Stage, st StageStatus, reason string, now time.Time) error {
	if err := it.mutable(s); err != nil {
		return err
	}
	it.Stages[s] = st
	ts := it.Timestamps[s]
	if ts.StartedAt == nil {
		ts.StartedAt = &now
	}
	ts.FinishedAt = &now
	it.Timestamps[s] = ts
	if reason != "" {
		it.Error = reason
	}
	it.Status = Derive(it.Kind, it.Stages)
	it.touch(now)
	return nil
}

func (it *Item) mutable(s Stage) error {
	if it.Terminal() {
		return fmt.Errorf("%s: %w", it.ID, ErrTerminal)
	}
	if _, ok := it.Stages[s]; !ok {
		return fmt.Errorf("%s %s: %w", it.Kind, s, ErrUnknownStage)
	}
	return nil
}

func (it *Item) touch(now time.Time) { it.UpdatedAt = now }
