package item_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"kbingest/features/account"
	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/worker"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Create(ctx context.Context, it *content.Item) error {
	return m.Called(ctx, it).Error(0)
}

func (m *MockRepo) FindItem(ctx context.Context, id string) (*content.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*content.Item), args.Error(1)
}

func (m *MockRepo) UpdateItem(ctx context.Context, it *content.Item) error {
	return m.Called(ctx, it).Error(0)
}

func (m *MockRepo) CountByStatus(ctx context.Context) (map[content.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[content.Status]int), args.Error(1)
}

type published struct {
	Topic   string
	Payload worker.Payload
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var pl worker.Payload
	if err := json.Unmarshal(body, &pl); err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{Topic: topic, Payload: pl})
	return nil
}

type fakeExpander struct {
	urls []string
	err  error
}

func (e fakeExpander) Expand(ctx context.Context, sitemapURL string) ([]string, error) {
	return e.urls, e.err
}

type fakeAccounts map[string]*account.Account

func (a fakeAccounts) FindAccount(ctx context.Context, id string) (*account.Account, error) {
	if acct, ok := a[id]; ok {
		return acct, nil
	}
	return nil, fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
}

var errBroker = errors.New("nsqd unavailable")
