// Package mocks provides test doubles for the registry client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	registry "github.com/sells-group/lead-qualifier/pkg/registry"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchCompanies provides a mock function with given fields: ctx, name
func (_m *MockClient) SearchCompanies(ctx context.Context, name string) ([]registry.Company, error) {
	ret := _m.Called(ctx, name)

	if len(ret) == 0 {
		panic("no return value specified for SearchCompanies")
	}

	var r0 []registry.Company
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]registry.Company, error)); ok {
		return rf(ctx, name)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]registry.Company)
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
