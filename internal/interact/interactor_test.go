// internal/interact/interactor_test.go
package interact_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/interact"
	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/mocks"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/script"
	"github.com/xkilldash9x/settle/internal/wait"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const hoverSettle = 25 * time.Millisecond

func newInteractor(t *testing.T, s remote.Session, timeout time.Duration) *interact.Interactor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e, err := wait.New(s, config.WaitConfig{Timeout: timeout, PollInterval: 10 * time.Millisecond}, logger)
	require.NoError(t, err)
	cfg := config.ScriptConfig{HoverSettle: hoverSettle}
	return interact.New(e, script.New(e, cfg, logger), cfg, logger)
}

var (
	submit = locator.ByCSS("button[type=submit]")
	search = locator.ByName("q")
)

func TestClick_WaitsUntilEnabled(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(submit, remote.ElementState{Rendered: true})
	s.After(30*time.Millisecond, func(f *mocks.FakeSession) {
		f.Main().Update(submit, func(st *remote.ElementState) { st.Enabled = true })
	})
	var clicked []string
	s.Handle(remote.ActionClick, func(cmd remote.Command) (any, error) {
		clicked = append(clicked, cmd.Target.Ref())
		return nil, nil
	})
	i := newInteractor(t, s, time.Second)

	require.NoError(t, i.Click(context.Background(), submit))
	assert.Len(t, clicked, 1)
}

func TestClick_Timeout(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(submit, remote.ElementState{Rendered: true})
	i := newInteractor(t, s, 30*time.Millisecond)

	err := i.Click(context.Background(), submit)
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.Zero(t, s.Calls(remote.ActionClick))
}

func TestClick_StaleAtDispatch(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(submit, remote.ElementState{Rendered: true, Enabled: true})
	s.Handle(remote.ActionClick, func(remote.Command) (any, error) {
		return nil, remote.NewError(remote.KindStale, "click", "node detached")
	})
	i := newInteractor(t, s, time.Second)

	err := i.Click(context.Background(), submit)
	assert.ErrorIs(t, err, remote.ErrStale)
}

func TestType(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(search, remote.ElementState{Rendered: true, Enabled: true})
	var typed string
	s.Handle(remote.ActionSendKeys, func(cmd remote.Command) (any, error) {
		typed += cmd.StringArg(0)
		return nil, nil
	})
	i := newInteractor(t, s, time.Second)

	require.NoError(t, i.Type(context.Background(), search, "golang"))
	assert.Equal(t, "golang", typed)
}

func TestHover_Settles(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(locator.ByID("menu"), remote.ElementState{Rendered: true})
	i := newInteractor(t, s, time.Second)

	start := time.Now()
	require.NoError(t, i.Hover(context.Background(), locator.ByID("menu")))
	assert.GreaterOrEqual(t, time.Since(start), hoverSettle)
	assert.Equal(t, 1, s.Calls(remote.ActionHover))
}

func TestHoverAndClick(t *testing.T) {
	menu, item := locator.ByID("menu"), locator.ByLinkText("Settings")
	s := mocks.NewFakeSession()
	s.Main().Put(menu, remote.ElementState{Rendered: true})
	s.Handle(remote.ActionHover, func(remote.Command) (any, error) {
		s.After(0, func(f *mocks.FakeSession) {
			f.Main().Put(item, remote.ElementState{Rendered: true, Enabled: true})
		})
		return nil, nil
	})
	i := newInteractor(t, s, time.Second)

	require.NoError(t, i.HoverAndClick(context.Background(), menu, item))
	assert.Equal(t, 1, s.Calls(remote.ActionHover))
	assert.Equal(t, 1, s.Calls(remote.ActionClick))
}

func TestRightClick(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(locator.ByID("row"), remote.ElementState{Rendered: true, Enabled: true})
	i := newInteractor(t, s, time.Second)

	require.NoError(t, i.RightClick(context.Background(), locator.ByID("row")))
	assert.Equal(t, 1, s.Calls(remote.ActionContextClick))
}

func TestDragAndDrop(t *testing.T) {
	card, column := locator.ByID("card-1"), locator.ByID("done")

	t.Run("success", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.Main().Put(card, remote.ElementState{Rendered: true})
		target := s.Main().Put(column, remote.ElementState{Rendered: true})
		var dropped remote.ElementHandle
		s.Handle(remote.ActionDragTo, func(cmd remote.Command) (any, error) {
			dropped, _ = cmd.Args[0].(remote.ElementHandle)
			return nil, nil
		})
		i := newInteractor(t, s, time.Second)

		assert.True(t, i.DragAndDrop(context.Background(), card, column))
		require.NotNil(t, dropped)
		assert.Equal(t, target.Ref(), dropped.Ref())
	})

	t.Run("missing target reports false", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.Main().Put(card, remote.ElementState{Rendered: true})
		i := newInteractor(t, s, 20*time.Millisecond)

		assert.False(t, i.DragAndDrop(context.Background(), card, column))
		assert.Zero(t, s.Calls(remote.ActionDragTo))
	})
}

func TestUploadFile(t *testing.T) {
	fileInput := locator.ByCSS("input[type=file]")
	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0o600))

	t.Run("hidden input is revealed", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.Main().Put(fileInput, remote.ElementState{Rendered: false})
		var files []string
		s.Handle(remote.ActionSetFiles, func(cmd remote.Command) (any, error) {
			files, _ = cmd.Args[0].([]string)
			return nil, nil
		})
		i := newInteractor(t, s, time.Second)

		require.NoError(t, i.UploadFile(context.Background(), fileInput, path))
		assert.Equal(t, []string{path}, files)
		assert.Equal(t, 1, s.Calls(remote.ActionRunScript), "the input was revealed once")
	})

	t.Run("visible input is used as is", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.Main().Put(fileInput, remote.ElementState{Rendered: true})
		i := newInteractor(t, s, time.Second)

		require.NoError(t, i.UploadFile(context.Background(), fileInput, path))
		assert.Zero(t, s.Calls(remote.ActionRunScript))
		assert.Equal(t, 1, s.Calls(remote.ActionSetFiles))
	})

	t.Run("home directory is expanded", func(t *testing.T) {
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		t.Setenv("HOME", dir)

		s := mocks.NewFakeSession()
		s.Main().Put(fileInput, remote.ElementState{Rendered: true})
		var files []string
		s.Handle(remote.ActionSetFiles, func(cmd remote.Command) (any, error) {
			files, _ = cmd.Args[0].([]string)
			return nil, nil
		})
		i := newInteractor(t, s, time.Second)

		require.NoError(t, i.UploadFile(context.Background(), fileInput, "~/invoice.pdf"))
		assert.Equal(t, []string{path}, files)
	})

	t.Run("missing file fails before any lookup", func(t *testing.T) {
		s := mocks.NewFakeSession()
		i := newInteractor(t, s, time.Second)

		err := i.UploadFile(context.Background(), fileInput, filepath.Join(dir, "nope.pdf"))
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.Zero(t, s.Lookups())
	})

	t.Run("directory is rejected", func(t *testing.T) {
		s := mocks.NewFakeSession()
		i := newInteractor(t, s, time.Second)

		err := i.UploadFile(context.Background(), fileInput, dir)
		assert.Error(t, err)
	})
}
