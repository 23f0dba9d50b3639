// internal/focus/alert.go
package focus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/wait"
)

// ErrAlertClosed is returned by Alert methods once the alert has been
// accepted or dismissed through this handle.
var ErrAlertClosed = errors.New("focus: alert already closed")

// Alert is the handle returned by SwitchToAlert. Text is captured when the
// alert was found.
type Alert struct {
	Text string

	s      *Switcher
	closed bool
}

// SwitchToAlert waits until a modal alert is open and moves focus onto it.
// The focus held before the alert is restored by Accept or Dismiss.
func (s *Switcher) SwitchToAlert(ctx context.Context, opts ...wait.Option) (*Alert, error) {
	cmd := remote.Command{Action: remote.ActionSwitchAlert}
	present := wait.ConditionFunc[string](func(ctx context.Context, rs remote.Session) (string, bool, error) {
		res, err := rs.Dispatch(ctx, cmd)
		if err != nil {
			return "", false, err
		}
		text, _ := res.(string)
		return text, true, nil
	})

	text, err := wait.Until[string](ctx, s.engine, "an alert to open", present, opts...)
	if err != nil {
		return nil, fmt.Errorf("focus: %w", err)
	}

	s.mu.Lock()
	if s.current.State != InAlert {
		s.preAlert = s.current.clone()
	}
	s.mu.Unlock()
	next := s.Current()
	next.State = InAlert
	s.commit(next)

	s.logger.Debug("Switched to alert.", zap.String("text", text))
	return &Alert{Text: text, s: s}, nil
}

// Accept confirms the alert and restores the previous focus. If focus moved
// while the alert was open, it stays where it was moved.
func (a *Alert) Accept(ctx context.Context) error {
	return a.close(ctx, remote.ActionAlertAccept)
}

// Dismiss cancels the alert and restores the previous focus.
func (a *Alert) Dismiss(ctx context.Context) error {
	return a.close(ctx, remote.ActionAlertDismiss)
}

// SendKeys types text into a prompt dialog. Focus stays on the alert.
func (a *Alert) SendKeys(ctx context.Context, text string) error {
	if a.closed {
		return ErrAlertClosed
	}
	cmd := remote.Command{Action: remote.ActionAlertSendKeys, Args: []any{text}}
	if _, err := a.s.session.Dispatch(ctx, cmd); err != nil {
		return fmt.Errorf("focus: typing into alert: %w", err)
	}
	return nil
}

func (a *Alert) close(ctx context.Context, action remote.Action) error {
	if a.closed {
		return ErrAlertClosed
	}
	if _, err := a.s.session.Dispatch(ctx, remote.Command{Action: action}); err != nil {
		return fmt.Errorf("focus: %s: %w", action, err)
	}
	a.closed = true

	a.s.mu.Lock()
	prev := a.s.preAlert
	a.s.preAlert = Context{}
	inAlert := a.s.current.State == InAlert
	a.s.mu.Unlock()
	if inAlert {
		a.s.commit(prev)
	}
	return nil
}
