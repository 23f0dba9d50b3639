// File: internal/mocks/session_mock.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
)

// Handle is a trivial remote.ElementHandle for mock expectations.
type Handle string

func (h Handle) Ref() string { return string(h) }

// -- Session Mock --

// MockSession mocks remote.Session.
type MockSession struct {
	mock.Mock
}

var _ remote.Session = (*MockSession)(nil)

func (m *MockSession) Find(ctx context.Context, loc locator.Locator) (remote.ElementHandle, error) {
	args := m.Called(ctx, loc)
	h, _ := args.Get(0).(remote.ElementHandle)
	return h, args.Error(1)
}

func (m *MockSession) FindAll(ctx context.Context, loc locator.Locator) ([]remote.ElementHandle, error) {
	args := m.Called(ctx, loc)
	hs, _ := args.Get(0).([]remote.ElementHandle)
	return hs, args.Error(1)
}

func (m *MockSession) Read(ctx context.Context, h remote.ElementHandle) (remote.ElementState, error) {
	args := m.Called(ctx, h)
	st, _ := args.Get(0).(remote.ElementState)
	return st, args.Error(1)
}

func (m *MockSession) Dispatch(ctx context.Context, cmd remote.Command) (any, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0), args.Error(1)
}

func (m *MockSession) WindowHandles(ctx context.Context) ([]remote.WindowHandle, error) {
	args := m.Called(ctx)
	hs, _ := args.Get(0).([]remote.WindowHandle)
	return hs, args.Error(1)
}

func (m *MockSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) CurrentTitle(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// ActionIs returns a mock.MatchedBy matcher for commands with the given action.
func ActionIs(a remote.Action) any {
	return mock.MatchedBy(func(cmd remote.Command) bool { return cmd.Action == a })
}

// -- Config Mock --

// MockConfig mocks config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Wait() config.WaitConfig {
	args := m.Called()
	return args.Get(0).(config.WaitConfig)
}

func (m *MockConfig) Script() config.ScriptConfig {
	args := m.Called()
	return args.Get(0).(config.ScriptConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) SetWaitTimeout(d time.Duration)      { m.Called(d) }
func (m *MockConfig) SetWaitPollInterval(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetBrowserHeadless(b bool)           { m.Called(b) }
func (m *MockConfig) SetBrowserRemoteURL(u string)        { m.Called(u) }
