package worker_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/internal/content"
	"kbingest/internal/notify"
	"kbingest/internal/vector"
)

func TestTrain_ZeroBalanceStopsBeforeEmbedding(t *testing.T) {
	h := newHarness(t, 0)
	h.tracker.Init(testOwner, 1)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Refunds are processed within five business days."})

	h.drain(t)

	got := h.items.get(it.ID)
	assert.Equal(t, content.StatusInsufficientCredits, got.Status)
	assert.Contains(t, got.Error, "insufficient credits")
	assert.Zero(t, h.embedder.callCount())
	assert.Empty(t, h.writer.all())
	assert.Empty(t, h.indexes.ensured)
	assert.Empty(t, h.accounts.charges)
	assert.Empty(t, h.jobs.saved)

	status := h.notes.ofType(notify.EventItemStatus)
	require.Len(t, status, 1)
	assert.Equal(t, "insufficient_credits", status[0].Data.(notify.ItemStatus).Status)

	complete := h.notes.ofType(notify.EventBatchComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, notify.BatchComplete{Total: 1, Processed: 0, Failed: 1}, complete[0].Data)
}

func TestTrain_FAQText(t *testing.T) {
	h := newHarness(t, 1000)
	it := h.submit(t, content.KindFAQ, content.SourceRef{Question: "What is X?", Answer: "X is Y."})

	h.drain(t)

	assert.Equal(t, content.StatusMapped, h.items.get(it.ID).Status)
	records := h.writer.all()
	require.Len(t, records, 1)
	want := "Question: What is X?\nAnswer: X is Y."
	assert.Equal(t, want, records[0].Metadata[vector.TextKey])
	assert.Equal(t, vector.RecordID(want), records[0].ID)
	assert.Equal(t, "What is X?", records[0].Metadata["title"])
	assert.Equal(t, "faq", records[0].Metadata["sourceType"])
}

func TestTrain_EmptyTextIsSkipped(t *testing.T) {
	h := newHarness(t, 1000)
	h.tracker.Init(testOwner, 1)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "   \n\t"})

	h.drain(t)

	assert.Equal(t, content.StatusSkipped, h.items.get(it.ID).Status)
	assert.Zero(t, h.embedder.callCount())
	assert.Empty(t, h.accounts.charges)

	p, ok := h.tracker.Get(testOwner)
	require.True(t, ok)
	assert.Equal(t, 1, p.TrainDone)
	assert.Zero(t, p.FailedItems)
}

func TestTrain_DuplicateDeliveryDoesNotRebill(t *testing.T) {
	h := newHarness(t, 1000)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Our office is open Monday to Friday."})
	m := h.next(t)

	require.NoError(t, h.deliver(m.topic, m.body, 1))
	require.NoError(t, h.deliver(m.topic, m.body, 1))

	assert.Equal(t, content.StatusMapped, h.items.get(it.ID).Status)
	assert.Equal(t, 1, h.embedder.callCount())
	assert.Len(t, h.accounts.charges, 1)
	assert.Len(t, h.notes.ofType(notify.EventItemStatus), 1)
}

func TestTrain_EmbeddingFailureRetriesThenFails(t *testing.T) {
	h := newHarness(t, 1000)
	h.embedder.err = errors.New("provider unavailable")
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Shipping is free above fifty dollars."})
	m := h.next(t)

	assert.Error(t, h.deliver(m.topic, m.body, 1))
	assert.Equal(t, content.StatusQueued, h.items.get(it.ID).Status)
	assert.Empty(t, h.writer.all())

	assert.NoError(t, h.deliver(m.topic, m.body, 3))
	got := h.items.get(it.ID)
	assert.Equal(t, content.StatusFailed, got.Status)
	assert.Equal(t, content.StageFailed, got.Stages[content.StageTrain])
	require.Len(t, h.jobs.saved, 1)
	assert.Equal(t, "train", h.jobs.saved[0].Stage)
}

func TestTrain_DimensionMismatchFailsImmediately(t *testing.T) {
	h := newHarness(t, 1000)
	h.embedder.dim = testDim + 1
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Returns need the original receipt."})

	h.drain(t)

	assert.Equal(t, content.StatusFailed, h.items.get(it.ID).Status)
	assert.Len(t, h.jobs.saved, 1)
	assert.Empty(t, h.writer.all())
}

func TestTrain_UnknownAccountFails(t *testing.T) {
	h := newHarness(t, 1000)
	delete(h.accounts.balances, testOwner)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Some text"})

	h.drain(t)

	assert.Equal(t, content.StatusFailed, h.items.get(it.ID).Status)
	assert.Zero(t, h.embedder.callCount())
}

func TestTrain_FileItem(t *testing.T) {
	h := newHarness(t, 1000)
	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nInstall the agent, then restart the service."), 0o600))

	it := h.submit(t, content.KindFile, content.SourceRef{FilePath: path, FileName: "guide.md"})
	h.drain(t)

	assert.Equal(t, content.StatusMapped, h.items.get(it.ID).Status)
	records := h.writer.all()
	require.Len(t, records, 1)
	assert.Equal(t, "guide.md", records[0].Metadata["title"])
	assert.Contains(t, records[0].Metadata[vector.TextKey], "restart the service")
}

func TestTrain_UnsupportedFileFails(t *testing.T) {
	h := newHarness(t, 1000)
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	it := h.submit(t, content.KindFile, content.SourceRef{FilePath: path, FileName: "scan.pdf"})
	h.drain(t)

	got := h.items.get(it.ID)
	assert.Equal(t, content.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "unsupported file type")
}

func TestTrain_DoneWriteFailureOnFinalAttemptFailsItem(t *testing.T) {
	h := newHarness(t, 1000)
	h.tracker.Init(testOwner, 1)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Gift cards never expire."})
	m := h.next(t)
	h.items.setReject(func(stored *content.Item) error {
		if stored.Status == content.StatusMapped {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, h.deliver(m.topic, m.body, 3))

	got := h.items.get(it.ID)
	assert.Equal(t, content.StatusFailed, got.Status)
	assert.Equal(t, content.StageFailed, got.Stages[content.StageTrain])
	assert.Contains(t, got.Error, "mark stage done")

	p, ok := h.tracker.Get(testOwner)
	require.True(t, ok)
	assert.Zero(t, p.TrainDone)
	assert.Equal(t, 1, p.FailedItems)
	require.Len(t, h.notes.ofType(notify.EventBatchComplete), 1)

	status := h.notes.ofType(notify.EventItemStatus)
	require.Len(t, status, 1)
	assert.Equal(t, "failed", status[0].Data.(notify.ItemStatus).Status)
	require.Len(t, h.jobs.saved, 1)
	assert.Equal(t, "train", h.jobs.saved[0].Stage)
}

func TestTrain_DoneWriteFailureRetriesWithoutRebilling(t *testing.T) {
	h := newHarness(t, 1000)
	it := h.submit(t, content.KindSnippet, content.SourceRef{Text: "Support answers within one hour."})
	m := h.next(t)
	h.items.setReject(func(stored *content.Item) error {
		if stored.Status == content.StatusMapped {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.Error(t, h.deliver(m.topic, m.body, 1))
	got := h.items.get(it.ID)
	assert.Equal(t, content.StatusQueued, got.Status)
	assert.Equal(t, content.StageRunning, got.Stages[content.StageTrain])
	assert.Empty(t, h.notes.ofType(notify.EventItemStatus))

	h.items.setReject(nil)
	require.NoError(t, h.deliver(m.topic, m.body, 2))

	assert.Equal(t, content.StatusMapped, h.items.get(it.ID).Status)
	assert.Len(t, h.accounts.charges, 1)
	assert.Empty(t, h.jobs.saved)
	assert.Len(t, h.notes.ofType(notify.EventItemStatus), 1)
}
