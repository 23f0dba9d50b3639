// internal/focus/switcher_test.go
package focus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/focus"
	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/mocks"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/wait"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const poll = 10 * time.Millisecond

var (
	paymentFrame = locator.ByID("payment")
	cardNumber   = locator.ByName("card-number")
)

func setup(t *testing.T, s remote.Session, timeout time.Duration) (*wait.Engine, *focus.Switcher) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e, err := wait.New(s, config.WaitConfig{Timeout: timeout, PollInterval: poll}, logger)
	require.NoError(t, err)
	return e, focus.New(e, logger)
}

func TestEnterFrame_TwoStageCommit(t *testing.T) {
	newPage := func() *mocks.FakeSession {
		s := mocks.NewFakeSession()
		s.Main().AddFrame(paymentFrame, "payment")
		s.After(60*time.Millisecond, func(f *mocks.FakeSession) {
			f.Doc(mocks.MainWindow, "payment").Put(cardNumber, remote.ElementState{Rendered: true, Enabled: true})
		})
		return s
	}

	t.Run("without verification the content is not there yet", func(t *testing.T) {
		s := newPage()
		e, sw := setup(t, s, time.Second)

		require.NoError(t, sw.EnterFrame(context.Background(), paymentFrame, locator.Locator{}))
		_, err := e.Present(context.Background(), cardNumber, wait.Timeout(0))
		assert.ErrorIs(t, err, wait.ErrTimeout)
	})

	t.Run("with verification the content is ready", func(t *testing.T) {
		s := newPage()
		e, sw := setup(t, s, time.Second)

		require.NoError(t, sw.EnterFrame(context.Background(), paymentFrame, cardNumber))
		_, err := e.Present(context.Background(), cardNumber, wait.Timeout(0))
		require.NoError(t, err)

		cur := sw.Current()
		assert.Equal(t, focus.InFrame, cur.State)
		assert.Equal(t, []focus.FrameRef{{Locator: paymentFrame}}, cur.Frames)
		_, frames := s.Focus()
		assert.Equal(t, []string{"payment"}, frames)
	})
}

func TestEnterFrame_FrameAppearsLate(t *testing.T) {
	s := mocks.NewFakeSession()
	s.After(40*time.Millisecond, func(f *mocks.FakeSession) {
		f.Main().AddFrame(paymentFrame, "payment")
		f.Doc(mocks.MainWindow, "payment").Put(cardNumber, remote.ElementState{Rendered: true})
	})
	_, sw := setup(t, s, time.Second)

	require.NoError(t, sw.EnterFrame(context.Background(), paymentFrame, cardNumber))
	assert.Equal(t, 1, s.Calls(remote.ActionSwitchFrame))
}

func TestEnterFrame_SwitchFailureLeavesFocusUnchanged(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().Put(paymentFrame, remote.ElementState{Rendered: true}) // present but not a frame
	_, sw := setup(t, s, time.Second)

	err := sw.EnterFrame(context.Background(), paymentFrame, cardNumber)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNoSuchFrame)
	assert.Equal(t, focus.MainDocument, sw.Current().State)
	assert.Empty(t, sw.Current().Frames)
}

func TestEnterFrame_LocateTimeout(t *testing.T) {
	s := mocks.NewFakeSession()
	_, sw := setup(t, s, 30*time.Millisecond)

	err := sw.EnterFrame(context.Background(), paymentFrame, cardNumber)
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.Zero(t, s.Calls(remote.ActionSwitchFrame))
	assert.Equal(t, focus.MainDocument, sw.Current().State)
}

func TestEnterFrame_VerificationFailureStaysInFrame(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().AddFrame(paymentFrame, "payment")
	_, sw := setup(t, s, 40*time.Millisecond)

	err := sw.EnterFrame(context.Background(), paymentFrame, cardNumber)
	require.Error(t, err)

	var verr *focus.FrameVerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, cardNumber, verr.Verify)
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.Equal(t, focus.InFrame, sw.Current().State, "the switch committed before verification")
}

func TestEnterFrameByName_RetriesUntilAttached(t *testing.T) {
	s := mocks.NewFakeSession()
	s.After(40*time.Millisecond, func(f *mocks.FakeSession) {
		f.Main().AddFrame(locator.ByCSS("iframe.help"), "help")
	})
	_, sw := setup(t, s, time.Second)

	require.NoError(t, sw.EnterFrameByName(context.Background(), "help", locator.Locator{}))
	assert.GreaterOrEqual(t, s.Calls(remote.ActionSwitchFrame), 2)
	assert.Equal(t, []focus.FrameRef{{Name: "help"}}, sw.Current().Frames)
}

func TestEnterFrameByName_Timeout(t *testing.T) {
	s := mocks.NewFakeSession()
	_, sw := setup(t, s, 30*time.Millisecond)

	err := sw.EnterFrameByName(context.Background(), "missing", locator.Locator{})
	require.ErrorIs(t, err, wait.ErrTimeout)

	var terr *wait.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, terr.LastErr, remote.ErrNoSuchFrame)
	assert.Equal(t, focus.MainDocument, sw.Current().State)
}

func TestNestedFramesAndReturnToMain(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().AddFrame(locator.ByID("outer"), "outer")
	s.Doc(mocks.MainWindow, "outer").AddFrame(locator.ByID("inner"), "inner")
	s.Doc(mocks.MainWindow, "outer", "inner").Put(locator.ByID("leaf"), remote.ElementState{Rendered: true})
	_, sw := setup(t, s, time.Second)
	ctx := context.Background()

	require.NoError(t, sw.EnterFrame(ctx, locator.ByID("outer"), locator.ByID("inner")))
	require.NoError(t, sw.EnterFrameByName(ctx, "inner", locator.ByID("leaf")))
	assert.Len(t, sw.Current().Frames, 2)
	assert.Equal(t, "in-frame > id=outer > name=inner", sw.Current().String())

	require.NoError(t, sw.ReturnToMain(ctx))
	assert.Equal(t, focus.MainDocument, sw.Current().State)
	assert.Empty(t, sw.Current().Frames)
	_, frames := s.Focus()
	assert.Empty(t, frames)

	require.NoError(t, sw.ReturnToMain(ctx), "returning to main is idempotent")
}

func TestReturnToMain_RemoteFailureStillResets(t *testing.T) {
	s := new(mocks.MockSession)
	s.On("Dispatch", mock.Anything, mocks.ActionIs(remote.ActionSwitchFrame)).Return(nil, nil).Once()
	s.On("Find", mock.Anything, paymentFrame).Return(mocks.Handle("frame-1"), nil).Once()
	s.On("Dispatch", mock.Anything, mocks.ActionIs(remote.ActionReturnToDefault)).
		Return(nil, errors.New("target closed")).Once()
	_, sw := setup(t, s, time.Second)

	require.NoError(t, sw.EnterFrame(context.Background(), paymentFrame, locator.Locator{}))
	err := sw.ReturnToMain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
	assert.Equal(t, focus.MainDocument, sw.Current().State)
	s.AssertExpectations(t)
}

func TestSwitchToAlert(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().AddFrame(paymentFrame, "payment")
	s.After(40*time.Millisecond, func(f *mocks.FakeSession) { f.OpenAlert("Are you sure?") })
	_, sw := setup(t, s, time.Second)
	ctx := context.Background()

	require.NoError(t, sw.EnterFrame(ctx, paymentFrame, locator.Locator{}))

	alert, err := sw.SwitchToAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Are you sure?", alert.Text)
	assert.Equal(t, focus.InAlert, sw.Current().State)
	assert.GreaterOrEqual(t, s.Calls(remote.ActionSwitchAlert), 2)

	assert.ErrorIs(t, sw.EnterFrame(ctx, paymentFrame, locator.Locator{}), focus.ErrAlertActive)
	assert.ErrorIs(t, sw.SwitchToWindow(ctx, mocks.MainWindow, ""), focus.ErrAlertActive)
	_, err = sw.WaitForNewWindow(ctx, nil, "")
	assert.ErrorIs(t, err, focus.ErrAlertActive)

	require.NoError(t, alert.SendKeys(ctx, "yes"))
	assert.Equal(t, "yes", s.PromptText())

	require.NoError(t, alert.Accept(ctx))
	assert.False(t, s.AlertOpen())
	cur := sw.Current()
	assert.Equal(t, focus.InFrame, cur.State, "the pre-alert focus is restored")
	assert.Equal(t, []focus.FrameRef{{Locator: paymentFrame}}, cur.Frames)

	assert.ErrorIs(t, alert.Dismiss(ctx), focus.ErrAlertClosed)
	assert.ErrorIs(t, alert.SendKeys(ctx, "again"), focus.ErrAlertClosed)
}

func TestSwitchToAlert_Dismiss(t *testing.T) {
	s := mocks.NewFakeSession()
	s.OpenAlert("Leave page?")
	_, sw := setup(t, s, time.Second)

	alert, err := sw.SwitchToAlert(context.Background())
	require.NoError(t, err)
	require.NoError(t, alert.Dismiss(context.Background()))
	assert.Equal(t, 1, s.Calls(remote.ActionAlertDismiss))
	assert.Equal(t, focus.MainDocument, sw.Current().State)
}

func TestReturnToMain_WhileAlertOpen(t *testing.T) {
	for _, tc := range []struct {
		name  string
		close func(*focus.Alert, context.Context) error
	}{
		{"accept", (*focus.Alert).Accept},
		{"dismiss", (*focus.Alert).Dismiss},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := mocks.NewFakeSession()
			s.Main().AddFrame(paymentFrame, "payment")
			_, sw := setup(t, s, time.Second)
			ctx := context.Background()

			require.NoError(t, sw.EnterFrame(ctx, paymentFrame, locator.Locator{}))
			s.OpenAlert("Session expired")
			alert, err := sw.SwitchToAlert(ctx)
			require.NoError(t, err)

			require.NoError(t, sw.ReturnToMain(ctx))
			require.NoError(t, tc.close(alert, ctx))

			cur := sw.Current()
			assert.Equal(t, focus.MainDocument, cur.State, "the frame entered before the alert is not restored")
			assert.Empty(t, cur.Frames)
			_, frames := s.Focus()
			assert.Empty(t, frames)
			assert.False(t, s.AlertOpen())
		})
	}
}

func TestReturnToMain_WhileAlertOpenKeepsWindow(t *testing.T) {
	s := mocks.NewFakeSession()
	s.OpenWindow("popup", "Popup", "https://app.test/popup")
	_, sw := setup(t, s, time.Second)
	ctx := context.Background()

	require.NoError(t, sw.SwitchToWindow(ctx, "popup", ""))
	s.OpenAlert("Saved")
	alert, err := sw.SwitchToAlert(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.ReturnToMain(ctx))
	require.NoError(t, alert.Accept(ctx))

	assert.Equal(t, focus.Context{State: focus.MainDocument, Window: "popup"}, sw.Current())
}

func TestSwitchToAlert_Twice(t *testing.T) {
	s := mocks.NewFakeSession()
	s.Main().AddFrame(paymentFrame, "payment")
	_, sw := setup(t, s, time.Second)
	ctx := context.Background()

	require.NoError(t, sw.EnterFrame(ctx, paymentFrame, locator.Locator{}))
	s.OpenAlert("Confirm payment")
	first, err := sw.SwitchToAlert(ctx)
	require.NoError(t, err)
	second, err := sw.SwitchToAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, focus.InAlert, sw.Current().State)

	require.NoError(t, second.Accept(ctx))
	cur := sw.Current()
	assert.Equal(t, focus.InFrame, cur.State, "the focus from before the first switch is restored")
	assert.Equal(t, []focus.FrameRef{{Locator: paymentFrame}}, cur.Frames)

	err = first.Accept(ctx)
	assert.ErrorIs(t, err, remote.ErrNoAlert)
	assert.Equal(t, focus.InFrame, sw.Current().State)
}

func TestSwitchToAlert_Timeout(t *testing.T) {
	s := mocks.NewFakeSession()
	_, sw := setup(t, s, 30*time.Millisecond)

	_, err := sw.SwitchToAlert(context.Background())
	require.ErrorIs(t, err, wait.ErrTimeout)

	var terr *wait.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, terr.LastErr, remote.ErrNoAlert)
	assert.Equal(t, focus.MainDocument, sw.Current().State)
}

func TestSwitchToWindow(t *testing.T) {
	t.Run("unknown handle is fatal and not retried", func(t *testing.T) {
		s := mocks.NewFakeSession()
		_, sw := setup(t, s, time.Second)

		start := time.Now()
		err := sw.SwitchToWindow(context.Background(), "ghost", "")
		assert.ErrorIs(t, err, remote.ErrInvalidWindow)
		assert.Equal(t, 1, s.Calls(remote.ActionSwitchWindow))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, focus.Context{}, sw.Current())
	})

	t.Run("waits for the title fragment", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.OpenWindow("popup", "", "about:blank")
		s.After(40*time.Millisecond, func(f *mocks.FakeSession) { f.SetTitle("popup", "Terms of Service") })
		_, sw := setup(t, s, time.Second)

		require.NoError(t, sw.SwitchToWindow(context.Background(), "popup", "TERMS"))
		assert.Equal(t, focus.Context{State: focus.MainDocument, Window: "popup"}, sw.Current())
	})

	t.Run("title never matches", func(t *testing.T) {
		s := mocks.NewFakeSession()
		s.OpenWindow("popup", "Other", "about:blank")
		_, sw := setup(t, s, 30*time.Millisecond)

		err := sw.SwitchToWindow(context.Background(), "popup", "terms")
		assert.ErrorIs(t, err, wait.ErrTimeout)
		assert.Equal(t, remote.WindowHandle("popup"), sw.Current().Window, "the switch itself committed")
	})
}

func TestWaitForNewWindow(t *testing.T) {
	s := mocks.NewFakeSession()
	_, sw := setup(t, s, time.Second)
	ctx := context.Background()

	original, err := s.WindowHandles(ctx)
	require.NoError(t, err)
	require.Equal(t, []remote.WindowHandle{mocks.MainWindow}, original)

	s.After(50*time.Millisecond, func(f *mocks.FakeSession) {
		f.OpenWindow("B", "Help Center", "https://example.test/help")
	})

	h, err := sw.WaitForNewWindow(ctx, original, "help")
	require.NoError(t, err)
	assert.Equal(t, remote.WindowHandle("B"), h)
	assert.Equal(t, remote.WindowHandle("B"), sw.Current().Window)

	w, _ := s.Focus()
	assert.Equal(t, remote.WindowHandle("B"), w)
}

func TestWaitForNewWindow_Timeout(t *testing.T) {
	s := mocks.NewFakeSession()
	_, sw := setup(t, s, 30*time.Millisecond)

	h, err := sw.WaitForNewWindow(context.Background(), []remote.WindowHandle{mocks.MainWindow}, "")
	assert.Empty(t, h)
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.Zero(t, s.Calls(remote.ActionSwitchWindow))
}
