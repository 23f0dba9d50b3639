// internal/remote/session.go
// Package remote defines the contract between the synchronization core and the
// live environment it observes. Implementations (a CDP browser, a test double)
// execute lookups and commands; the core only interprets their results and
// their errors.
package remote

import (
	"context"

	"github.com/xkilldash9x/settle/internal/locator"
)

// ElementHandle is an opaque reference to a remote node returned by a
// successful lookup. It may go stale at any moment after acquisition; staleness
// is only discovered on the next use. Callers must not keep handles across
// waits.
type ElementHandle interface {
	Ref() string
}

// WindowHandle identifies a top-level window (a browser tab or target).
type WindowHandle string

// ElementState is the observable state of a node at the instant it was read.
type ElementState struct {
	Rendered bool
	Enabled  bool
	Text     string
}

// Session is the minimal surface the core needs from the remote environment.
// It is not safe for concurrent commands; the core never issues two at once.
type Session interface {
	// Find returns the first node matching loc, or an error of kind NotFound.
	Find(ctx context.Context, loc locator.Locator) (ElementHandle, error)
	// FindAll returns every node matching loc in document order. An empty
	// result is not an error.
	FindAll(ctx context.Context, loc locator.Locator) ([]ElementHandle, error)
	// Read returns the current state of h, or an error of kind Stale.
	Read(ctx context.Context, h ElementHandle) (ElementState, error)
	// Dispatch issues a command against the current focus context.
	Dispatch(ctx context.Context, cmd Command) (any, error)
	// WindowHandles lists the open windows in the session's own order.
	WindowHandles(ctx context.Context) ([]WindowHandle, error)
	CurrentURL(ctx context.Context) (string, error)
	CurrentTitle(ctx context.Context) (string, error)
}

// Action is a command verb understood by a Session.
type Action string

const (
	ActionClick           Action = "click"
	ActionSendKeys        Action = "send-keys"
	ActionSwitchFrame     Action = "switch-frame"
	ActionSwitchWindow    Action = "switch-window"
	ActionSwitchAlert     Action = "switch-alert"
	ActionReturnToDefault Action = "return-to-default"
	ActionRunScript       Action = "run-script"
	ActionHover           Action = "hover"
	ActionContextClick    Action = "context-click"
	ActionDragTo          Action = "drag-to"
	ActionSetFiles        Action = "set-files"
	ActionAlertAccept     Action = "alert-accept"
	ActionAlertDismiss    Action = "alert-dismiss"
	ActionAlertSendKeys   Action = "alert-send-keys"
)

// Command is one request dispatched to a Session.
//
// Argument conventions per action:
//   - ActionSendKeys, ActionAlertSendKeys: Args[0] string
//   - ActionSwitchFrame: Target is the frame element, or Args[0] is a frame name/id string
//   - ActionSwitchWindow: Args[0] WindowHandle
//   - ActionSwitchAlert: returns the alert text as a string
//   - ActionRunScript: Args[0] is the script source, Args[1:] its arguments; the
//     optional Target is bound to `this`
//   - ActionDragTo: Args[0] ElementHandle drop target
//   - ActionSetFiles: Args[0] []string absolute paths
type Command struct {
	Target ElementHandle
	Action Action
	Args   []any
}

// Script builds an ActionRunScript command.
func Script(target ElementHandle, source string, args ...any) Command {
	return Command{
		Target: target,
		Action: ActionRunScript,
		Args:   append([]any{source}, args...),
	}
}

// StringArg returns Args[i] as a string, or "" when it is absent or not a string.
func (c Command) StringArg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	switch v := c.Args[i].(type) {
	case string:
		return v
	case WindowHandle:
		return string(v)
	}
	return ""
}
