// internal/script/effects_test.go
package script_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/mocks"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/script"
	"github.com/xkilldash9x/settle/internal/wait"
)

// recorder captures every script command a session receives.
type recorder struct {
	mu     sync.Mutex
	cmds   []remote.Command
	result any
}

func (r *recorder) handle(cmd remote.Command) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.result, nil
}

func (r *recorder) last(t *testing.T) remote.Command {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.cmds)
	return r.cmds[len(r.cmds)-1]
}

func withRecorder(result any) (*mocks.FakeSession, *recorder) {
	s := mocks.NewFakeSession()
	r := &recorder{result: result}
	s.Handle(remote.ActionRunScript, r.handle)
	return s, r
}

var field = locator.ByID("email")

func TestScrollIntoView(t *testing.T) {
	s, rec := withRecorder(nil)
	el := s.Main().Put(field, remote.ElementState{Rendered: true})
	b := newBridge(t, s)

	start := time.Now()
	require.NoError(t, b.ScrollIntoView(context.Background(), field, ""))
	assert.GreaterOrEqual(t, time.Since(start), testScriptConfig().ScrollSettle, "waits for the scroll to settle")

	cmd := rec.last(t)
	assert.Equal(t, el.Ref(), cmd.Target.Ref())
	assert.Contains(t, cmd.StringArg(0), "scrollIntoView")
	assert.Equal(t, "center", cmd.Args[1])

	require.NoError(t, b.ScrollIntoView(context.Background(), field, script.BlockEnd))
	assert.Equal(t, "end", rec.last(t).Args[1])
}

func TestScrollIntoView_InvalidBlock(t *testing.T) {
	s, _ := withRecorder(nil)
	b := newBridge(t, s)

	err := b.ScrollIntoView(context.Background(), field, "middle")
	require.Error(t, err)
	assert.Zero(t, s.Lookups())
}

func TestScrollIntoView_MissingElement(t *testing.T) {
	s, _ := withRecorder(nil)
	b := newBridge(t, s)

	err := b.ScrollIntoView(context.Background(), field, script.BlockStart, wait.Timeout(0))
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.Zero(t, s.Calls(remote.ActionRunScript))
}

func TestScrollToTopAndBottom(t *testing.T) {
	s, rec := withRecorder(nil)
	b := newBridge(t, s)

	start := time.Now()
	require.NoError(t, b.ScrollToTop(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), testScriptConfig().SmoothScrollSettle)
	assert.Contains(t, rec.last(t).StringArg(0), "top: 0")

	require.NoError(t, b.ScrollToBottom(context.Background()))
	assert.Contains(t, rec.last(t).StringArg(0), "scrollHeight")
}

func TestScroll_ContextCancelledDuringSettle(t *testing.T) {
	s, _ := withRecorder(nil)
	b := newBridge(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.ScrollToTop(ctx), context.Canceled)
}

func TestHighlight(t *testing.T) {
	s, rec := withRecorder(nil)
	s.Main().Put(field, remote.ElementState{Rendered: true})
	b := newBridge(t, s)

	start := time.Now()
	require.NoError(t, b.Highlight(context.Background(), field, "", 0))
	assert.Less(t, time.Since(start), time.Second, "highlighting does not block for its duration")

	args := rec.last(t).Args
	require.Len(t, args, 3)
	assert.Equal(t, "red", args[1])
	assert.Equal(t, int64(2000), args[2])

	require.NoError(t, b.Highlight(context.Background(), field, "blue", 500*time.Millisecond))
	args = rec.last(t).Args
	assert.Equal(t, "blue", args[1])
	assert.Equal(t, int64(500), args[2])
}

func TestSetValue(t *testing.T) {
	s, rec := withRecorder(nil)
	s.Main().Put(field, remote.ElementState{Rendered: true, Enabled: true})
	b := newBridge(t, s)

	require.NoError(t, b.SetValue(context.Background(), field, "jane@example.test"))
	cmd := rec.last(t)
	assert.Equal(t, "jane@example.test", cmd.Args[1])
	src := cmd.StringArg(0)
	assert.True(t, strings.Contains(src, "'input'") && strings.Contains(src, "'change'"))
}

func TestIsInViewport(t *testing.T) {
	s, _ := withRecorder(true)
	s.Main().Put(field, remote.ElementState{Rendered: true})
	b := newBridge(t, s)

	in, err := b.IsInViewport(context.Background(), field)
	require.NoError(t, err)
	assert.True(t, in)
}

func TestLocalStorage(t *testing.T) {
	store := map[string]string{"token": "abc123"}
	s := mocks.NewFakeSession()
	s.Handle(remote.ActionRunScript, func(cmd remote.Command) (any, error) {
		src := cmd.StringArg(0)
		switch {
		case strings.Contains(src, "getItem"):
			if v, ok := store[cmd.StringArg(1)]; ok {
				return v, nil
			}
			return nil, nil
		case strings.Contains(src, "clear()"):
			clear(store)
		}
		return nil, nil
	})
	b := newBridge(t, s)
	ctx := context.Background()

	v, ok, err := b.LocalStorageItem(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	_, ok, err = b.LocalStorageItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.ClearLocalStorage(ctx))
	_, ok, err = b.LocalStorageItem(ctx, "token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevealHidden(t *testing.T) {
	s, rec := withRecorder(nil)
	el := s.Main().Put(locator.ByCSS("input[type=file]"), remote.ElementState{})
	b := newBridge(t, s)

	require.NoError(t, b.RevealHidden(context.Background(), el))
	cmd := rec.last(t)
	assert.Equal(t, el.Ref(), cmd.Target.Ref())
	assert.Contains(t, cmd.StringArg(0), "display = 'block'")
}
