// internal/browser/errors_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/settle/internal/remote"
)

func TestMapError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapError("find", nil))
	})

	t.Run("context errors pass through", func(t *testing.T) {
		err := fmt.Errorf("run: %w", context.DeadlineExceeded)
		assert.Same(t, err, mapError("find", err))
		assert.ErrorIs(t, mapError("find", context.Canceled), context.Canceled)
	})

	t.Run("remote errors pass through", func(t *testing.T) {
		err := remote.NewError(remote.KindNoSuchFrame, "switch", "gone")
		assert.Same(t, err, mapError("find", err))
	})

	t.Run("script exception", func(t *testing.T) {
		exc := &runtime.ExceptionDetails{
			Text:      "Uncaught",
			Exception: &runtime.RemoteObject{Description: "TypeError: x is undefined\n    at <anonymous>:2:3"},
		}
		err := mapError("dispatch run-script", exc)

		var re *remote.Error
		require.ErrorAs(t, err, &re)
		assert.Equal(t, remote.KindScript, re.Kind)
		assert.Equal(t, "TypeError: x is undefined", re.Message)
		assert.ErrorIs(t, err, exc)
	})

	t.Run("exception without description", func(t *testing.T) {
		assert.Equal(t, "Uncaught", exceptionMessage(&runtime.ExceptionDetails{Text: "Uncaught"}))
	})

	t.Run("stale markers", func(t *testing.T) {
		err := mapError("read", errors.New("No node with given id found (-32000)"))
		assert.ErrorIs(t, err, remote.ErrStale)
		assert.True(t, remote.IsTransient(err))
	})

	t.Run("unparsable selector", func(t *testing.T) {
		err := mapError("find", errors.New("DOM Error while querying (-32000)"))
		assert.ErrorIs(t, err, remote.ErrInvalidLocator)
		assert.False(t, remote.IsTransient(err))

		err = mapError("find", errors.New("'div[' is not a valid selector"))
		assert.ErrorIs(t, err, remote.ErrInvalidLocator)
	})

	t.Run("anything else is fatal", func(t *testing.T) {
		err := mapError("click", errors.New("websocket closed"))
		assert.Equal(t, remote.KindUnknown, remote.KindOf(err))
		assert.False(t, remote.IsTransient(err))
	})
}
