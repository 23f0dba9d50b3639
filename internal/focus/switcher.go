// internal/focus/switcher.go
// Package focus tracks which document, frame chain, window or alert is the
// target of subsequent remote commands, and moves that target only through
// verified transitions built on the wait engine.
package focus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/wait"
)

// State is the kind of target commands are currently issued against.
type State int

const (
	MainDocument State = iota
	InFrame
	InAlert
)

func (s State) String() string {
	switch s {
	case MainDocument:
		return "main-document"
	case InFrame:
		return "in-frame"
	case InAlert:
		return "in-alert"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FrameRef records how a frame in the chain was entered: by element locator
// or by name/id.
type FrameRef struct {
	Locator locator.Locator
	Name    string
}

func (f FrameRef) String() string {
	if f.Name != "" {
		return "name=" + f.Name
	}
	return f.Locator.String()
}

// Context is a snapshot of the active focus. Window is empty until the first
// window switch, meaning the window the session started in.
type Context struct {
	State  State
	Frames []FrameRef
	Window remote.WindowHandle
}

func (c Context) clone() Context {
	c.Frames = append([]FrameRef(nil), c.Frames...)
	return c
}

func (c Context) String() string {
	var b strings.Builder
	b.WriteString(c.State.String())
	if c.Window != "" {
		fmt.Fprintf(&b, " window=%s", c.Window)
	}
	for _, f := range c.Frames {
		fmt.Fprintf(&b, " > %s", f)
	}
	return b.String()
}

// ErrAlertActive is returned for frame and window transitions attempted while
// an alert holds focus. Accept or Dismiss the alert first.
var ErrAlertActive = errors.New("focus: an alert is active")

// FrameVerificationError reports that the switch into a frame committed but
// the expected content never appeared. Focus remains inside the frame.
type FrameVerificationError struct {
	Frame  FrameRef
	Verify locator.Locator
	Err    error
}

func (e *FrameVerificationError) Error() string {
	return fmt.Sprintf("focus: entered frame %s but %s did not appear: %v", e.Frame, e.Verify, e.Err)
}

func (e *FrameVerificationError) Unwrap() error { return e.Err }

// Switcher owns the focus of one session. Transitions are sequential; the
// mutex only keeps Current snapshots consistent.
type Switcher struct {
	engine  *wait.Engine
	session remote.Session
	logger  *zap.Logger

	mu       sync.Mutex
	current  Context
	preAlert Context
}

// New returns a Switcher in the MainDocument state.
func New(engine *wait.Engine, logger *zap.Logger) *Switcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switcher{
		engine:  engine,
		session: engine.Session(),
		logger:  logger.Named("focus"),
	}
}

// Current returns a copy of the active focus.
func (s *Switcher) Current() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

func (s *Switcher) commit(next Context) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()
	s.logger.Debug("Focus changed.", zap.Stringer("from", prev), zap.Stringer("to", next))
}

func (s *Switcher) refuseInAlert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.State == InAlert {
		return ErrAlertActive
	}
	return nil
}

// EnterFrame waits for frameLoc to be present, switches into it and, when
// verifyLoc is not zero, waits for verifyLoc inside the frame.
//
// If the switch fails the focus is unchanged. If verification fails the
// focus is already inside the frame and a *FrameVerificationError is returned.
func (s *Switcher) EnterFrame(ctx context.Context, frameLoc, verifyLoc locator.Locator, opts ...wait.Option) error {
	if err := s.refuseInAlert(); err != nil {
		return err
	}
	h, err := s.engine.Present(ctx, frameLoc, opts...)
	if err != nil {
		return fmt.Errorf("focus: locating frame %s: %w", frameLoc, err)
	}
	if _, err := s.session.Dispatch(ctx, remote.Command{Target: h, Action: remote.ActionSwitchFrame}); err != nil {
		return fmt.Errorf("focus: switching to frame %s: %w", frameLoc, err)
	}
	return s.enteredFrame(ctx, FrameRef{Locator: frameLoc}, verifyLoc, opts)
}

// EnterFrameByName switches into the child frame with the given name or id.
// The switch itself is retried until the frame exists or the wait times out.
func (s *Switcher) EnterFrameByName(ctx context.Context, nameOrID string, verifyLoc locator.Locator, opts ...wait.Option) error {
	if err := s.refuseInAlert(); err != nil {
		return err
	}
	if nameOrID == "" {
		return errors.New("focus: empty frame name")
	}
	cmd := remote.Command{Action: remote.ActionSwitchFrame, Args: []any{nameOrID}}
	switched := wait.Predicate(func(ctx context.Context, rs remote.Session) (bool, error) {
		if _, err := rs.Dispatch(ctx, cmd); err != nil {
			return false, err
		}
		return true, nil
	})
	if _, err := wait.Until(ctx, s.engine, fmt.Sprintf("frame %q to accept focus", nameOrID), switched, opts...); err != nil {
		return fmt.Errorf("focus: switching to frame %q: %w", nameOrID, err)
	}
	return s.enteredFrame(ctx, FrameRef{Name: nameOrID}, verifyLoc, opts)
}

func (s *Switcher) enteredFrame(ctx context.Context, ref FrameRef, verifyLoc locator.Locator, opts []wait.Option) error {
	next := s.Current()
	next.State = InFrame
	next.Frames = append(next.Frames, ref)
	s.commit(next)

	if verifyLoc.IsZero() {
		return nil
	}
	if _, err := s.engine.Present(ctx, verifyLoc, opts...); err != nil {
		s.logger.Warn("Frame content did not appear after switching.",
			zap.Stringer("frame", ref), zap.Stringer("verify", verifyLoc), zap.Error(err))
		return &FrameVerificationError{Frame: ref, Verify: verifyLoc, Err: err}
	}
	return nil
}

// ReturnToMain moves focus back to the top document of the current window.
// The local state is reset even when the remote command fails; that failure
// is logged and returned for information.
func (s *Switcher) ReturnToMain(ctx context.Context) error {
	_, err := s.session.Dispatch(ctx, remote.Command{Action: remote.ActionReturnToDefault})
	if err != nil {
		s.logger.Warn("Remote return to default content failed; focus reset locally.", zap.Error(err))
		err = fmt.Errorf("focus: returning to main document: %w", err)
	}

	s.mu.Lock()
	next := Context{State: MainDocument, Window: s.current.Window}
	// An alert still open is now closed against the main document.
	s.preAlert = next
	s.mu.Unlock()
	s.commit(next)
	return err
}

// SwitchToWindow switches to handle without retrying: an unknown handle is
// fatal. If titleFragment is not empty the transition completes only once the
// window title contains it, compared case-insensitively.
func (s *Switcher) SwitchToWindow(ctx context.Context, handle remote.WindowHandle, titleFragment string, opts ...wait.Option) error {
	if err := s.refuseInAlert(); err != nil {
		return err
	}
	cmd := remote.Command{Action: remote.ActionSwitchWindow, Args: []any{handle}}
	if _, err := s.session.Dispatch(ctx, cmd); err != nil {
		return fmt.Errorf("focus: switching to window %s: %w", handle, err)
	}
	s.commit(Context{State: MainDocument, Window: handle})

	if titleFragment == "" {
		return nil
	}
	if _, err := s.engine.TitleContains(ctx, titleFragment, opts...); err != nil {
		return fmt.Errorf("focus: window %s: %w", handle, err)
	}
	return nil
}

// WaitForNewWindow waits until a window handle not in original is listed and
// switches to it. When several new windows appear at once the first in the
// session's listing order is chosen; that order is not guaranteed by
// browsers, so callers opening several windows must not rely on it.
func (s *Switcher) WaitForNewWindow(ctx context.Context, original []remote.WindowHandle, titleFragment string, opts ...wait.Option) (remote.WindowHandle, error) {
	if err := s.refuseInAlert(); err != nil {
		return "", err
	}
	known := make(map[remote.WindowHandle]struct{}, len(original))
	for _, h := range original {
		known[h] = struct{}{}
	}
	opened := wait.ConditionFunc[remote.WindowHandle](func(ctx context.Context, rs remote.Session) (remote.WindowHandle, bool, error) {
		handles, err := rs.WindowHandles(ctx)
		if err != nil {
			return "", false, err
		}
		for _, h := range handles {
			if _, ok := known[h]; !ok {
				return h, true, nil
			}
		}
		return "", false, nil
	})

	handle, err := wait.Until[remote.WindowHandle](ctx, s.engine, "a new window", opened, opts...)
	if err != nil {
		return "", fmt.Errorf("focus: %w", err)
	}
	s.logger.Debug("New window detected.", zap.String("handle", string(handle)))
	if err := s.SwitchToWindow(ctx, handle, titleFragment, opts...); err != nil {
		return handle, err
	}
	return handle, nil
}
