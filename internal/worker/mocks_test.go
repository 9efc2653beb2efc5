package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"

	"kbingest/features/account"
	"kbingest/features/job"
	"kbingest/internal/billing"
	"kbingest/internal/config"
	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/notify"
	"kbingest/internal/progress"
	"kbingest/internal/text"
	"kbingest/internal/vector"
	"kbingest/internal/worker"
)

const (
	testOwner = "acct-1"
	testDim   = 4
	testModel = "test-embed"
)

// Fakes

type memItems struct {
	mu    sync.Mutex
	items map[string]*content.Item
	// reject, when set, can refuse a write.
	reject func(it *content.Item) error
}

func newMemItems() *memItems { return &memItems{items: map[string]*content.Item{}} }

func (s *memItems) FindItem(ctx context.Context, id string) (*content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, errkind.ErrNotFound)
	}
	return it.Clone(), nil
}

func (s *memItems) UpdateItem(ctx context.Context, it *content.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		if err := s.reject(it); err != nil {
			return err
		}
	}
	s.items[it.ID] = it.Clone()
	return nil
}

func (s *memItems) setReject(fn func(it *content.Item) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = fn
}

func (s *memItems) put(it *content.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it.Clone()
}

func (s *memItems) get(id string) *content.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Clone()
}

type queued struct {
	topic string
	body  []byte
}

type memQueue struct {
	mu   sync.Mutex
	msgs []queued
	err  error
}

func (q *memQueue) Publish(topic string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, queued{topic: topic, body: body})
	return nil
}

func (q *memQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return queued{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, true
}

func (q *memQueue) topics() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, m := range q.msgs {
		out = append(out, m.topic)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(ev notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memJobs struct {
	mu    sync.Mutex
	saved []*job.Job
}

func (j *memJobs) Save(ctx context.Context, failed *job.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	failed.ID = fmt.Sprintf("job-%d", len(j.saved)+1)
	j.saved = append(j.saved, failed)
	return nil
}

type memAccounts struct {
	balances map[string]int64
	mu       sync.Mutex
	charges  []string
}

func (a *memAccounts) FindAccount(ctx context.Context, id string) (*account.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bal, ok := a.balances[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
	}
	return &account.Account{ID: id, Credits: bal}, nil
}

func (a *memAccounts) GetBalance(ctx context.Context, id string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bal, ok := a.balances[id]
	if !ok {
		return 0, errkind.ErrNotFound
	}
	return bal, nil
}

func (a *memAccounts) Charge(ctx context.Context, id string, credits int64, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.charges {
		if r == reason {
			return nil
		}
	}
	a.charges = append(a.charges, reason)
	a.balances[id] -= credits
	return nil
}

type fakeIndexes struct {
	mu      sync.Mutex
	ensured []string
	err     error
}

func (f *fakeIndexes) EnsureIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	return f.err
}

type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls int
	err   error
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type memWriter struct {
	mu      sync.Mutex
	records map[string][]vector.Record
}

func (w *memWriter) UpsertRecords(ctx context.Context, index string, records []vector.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.records == nil {
		w.records = map[string][]vector.Record{}
	}
	w.records[index] = append(w.records[index], records...)
	return nil
}

func (w *memWriter) all() []vector.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []vector.Record
	for _, rs := range w.records {
		out = append(out, rs...)
	}
	return out
}

type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (worker.Page, error) {
	if err, ok := f.errs[url]; ok {
		return worker.Page{}, err
	}
	body, ok := f.pages[url]
	if !ok {
		return worker.Page{}, errkind.Integrity("http fetch", errors.New("unexpected http status 404"))
	}
	return worker.Page{Body: body, ContentType: "text/html; charset=utf-8"}, nil
}

// harness wires the three stages to in-memory collaborators.
type harness struct {
	items    *memItems
	queue    *memQueue
	notes    *recordingNotifier
	jobs     *memJobs
	tracker  *progress.Tracker
	accounts *memAccounts
	indexes  *fakeIndexes
	embedder *fakeEmbedder
	writer   *memWriter
	fetcher  *fakeFetcher

	crawl  *worker.CrawlHandler
	minify *worker.MinifyHandler
	train  *worker.TrainHandler
	seq    int
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	h := &harness{
		items:    newMemItems(),
		queue:    &memQueue{},
		notes:    &recordingNotifier{},
		jobs:     &memJobs{},
		tracker:  progress.NewTracker(),
		accounts: &memAccounts{balances: map[string]int64{testOwner: balance}},
		indexes:  &fakeIndexes{},
		embedder: &fakeEmbedder{dim: testDim},
		writer:   &memWriter{},
		fetcher:  &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}},
	}

	gate, err := billing.NewGate(
		billing.CharEstimator{CharsPerToken: 4},
		billing.Pricing{RatesPer1K: map[string]float64{testModel: 0.1}, DefaultRatePer1K: 0.1, CreditsPerDollar: 1000},
		h.accounts, testModel, nil)
	require.NoError(t, err)

	deps := worker.Deps{
		Items:       h.items,
		Jobs:        h.jobs,
		Publisher:   h.queue,
		Tracker:     h.tracker,
		Notifier:    h.notes,
		MaxAttempts: 3,
		ClearGrace:  time.Hour,
	}
	h.crawl = worker.NewCrawlHandler(deps, h.fetcher)
	h.minify = worker.NewMinifyHandler(deps)
	h.train = worker.NewTrainHandler(deps, worker.TrainConfig{
		Accounts:    h.accounts,
		Extractor:   worker.FileExtractor{},
		Gate:        gate,
		Indexes:     h.indexes,
		Chunker:     text.NewChunker(nil),
		Upserter:    vector.NewUpserter(h.embedder, h.writer, vector.MaxBatchSize, testDim),
		IndexPrefix: "Knowledge",
	})
	return h
}

// submit stores a new item and enqueues its first stage.
func (h *harness) submit(t *testing.T, kind content.Kind, src content.SourceRef) *content.Item {
	t.Helper()
	h.seq++
	it := content.NewItem(fmt.Sprintf("item-%d", h.seq), testOwner, kind, src, time.Now())
	h.items.put(it)
	body := worker.Payload{ItemID: it.ID, OwnerID: testOwner, CorrelationID: "corr-1"}.Encode()
	require.NoError(t, h.queue.Publish(worker.TopicFor(worker.FirstStage(kind)), body))
	return it
}

func (h *harness) handler(topic string) nsq.Handler {
	switch topic {
	case config.TopicCrawl:
		return h.crawl
	case config.TopicMinify:
		return h.minify
	default:
		return h.train
	}
}

func (h *harness) deliver(topic string, body []byte, attempts uint16) error {
	msg := nsq.NewMessage(nsq.MessageID{}, body)
	msg.Attempts = attempts
	return h.handler(topic).HandleMessage(msg)
}

// drain delivers queued messages until the queue is empty.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		m, ok := h.queue.pop()
		if !ok {
			return
		}
		require.NoError(t, h.deliver(m.topic, m.body, 1))
	}
	t.Fatal("queue did not drain")
}

// next pops one message without delivering it.
func (h *harness) next(t *testing.T) queued {
	t.Helper()
	m, ok := h.queue.pop()
	require.True(t, ok, "expected a queued message")
	return m
}
