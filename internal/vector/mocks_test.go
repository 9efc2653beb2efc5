package vector

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockIndexClient struct {
	mock.Mock
}

func (m *MockIndexClient) IndexExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockIndexClient) CreateIndex(ctx context.Context, spec IndexSpec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

func (m *MockIndexClient) DescribeIndex(ctx context.Context, name string) (IndexStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(IndexStatus), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockRecordWriter struct {
	mock.Mock
}

func (m *MockRecordWriter) UpsertRecords(ctx context.Context, index string, records []Record) error {
	args := m.Called(ctx, index, records)
	return args.Error(0)
}
