// Package mocks provides test doubles for the news client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	news "github.com/sells-group/lead-qualifier/pkg/news"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, query, limit
func (_m *MockClient) Search(ctx context.Context, query string, limit int) ([]news.Article, error) {
	ret := _m.Called(ctx, query, limit)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 []news.Article
	if rf, ok := ret.Get(0).(func(context.Context, string, int) ([]news.Article, error)); ok {
		return rf(ctx, query, limit)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]news.Article)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient and registers cleanup assertions.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
