package anthropic

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for tests, here and in packages that
// build on this one.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func (m *MockClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResponse), args.Error(1)
}

func (m *MockClient) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResponse), args.Error(1)
}

func (m *MockClient) GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(BatchResultIterator), args.Error(1)
}

// MockBatchResultIterator implements BatchResultIterator over a fixed
// slice, optionally failing after the last item.
type MockBatchResultIterator struct {
	items []BatchResultItem
	idx   int
	err   error
}

// NewMockBatchResultIterator creates an iterator yielding the given items.
func NewMockBatchResultIterator(items []BatchResultItem) *MockBatchResultIterator {
	return &MockBatchResultIterator{items: items, idx: -1}
}

// NewMockBatchResultIteratorWithError creates an iterator that reports
// err once the items are exhausted.
func NewMockBatchResultIteratorWithError(items []BatchResultItem, err error) *MockBatchResultIterator {
	return &MockBatchResultIterator{items: items, idx: -1, err: err}
}

func (m *MockBatchResultIterator) Next() bool {
	if m.idx+1 < len(m.items) {
		m.idx++
		return true
	}
	return false
}

func (m *MockBatchResultIterator) Item() BatchResultItem {
	return m.items[m.idx]
}

func (m *MockBatchResultIterator) Err() error {
	if m.idx+1 >= len(m.items) {
		return m.err
	}
	return nil
}

func (m *MockBatchResultIterator) Close() error { return nil }
