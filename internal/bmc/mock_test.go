package bmc

import (
	"context"
	"sync"
)

// nolint:govet // fieldalignment, pointless in tests
type MockBMCClient struct {
	mu         sync.Mutex
	openErr    error
	updateErr  error
	updateOK   bool
	connOpened bool
	connClosed bool
	updated    map[string]string
}

func NewMockBMCClient(openErr, updateErr error, updateOK bool) *MockBMCClient {
	return &MockBMCClient{
		openErr:   openErr,
		updateErr: updateErr,
		updateOK:  updateOK,
		updated:   map[string]string{},
	}
}

func (m *MockBMCClient) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connOpened = true

	return m.openErr
}

func (m *MockBMCClient) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connClosed = true

	return nil
}

func (m *MockBMCClient) UpdateUser(_ context.Context, user, pass, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return false, m.updateErr
	}

	m.updated[user] = pass

	return m.updateOK, nil
}
