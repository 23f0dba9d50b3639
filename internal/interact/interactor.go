// internal/interact/interactor.go
// Package interact issues user-level gestures (click, type, hover, drag,
// upload) only after the wait engine has confirmed the target is ready.
package interact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/script"
	"github.com/xkilldash9x/settle/internal/wait"
)

// Interactor performs gestures against the session shared by its engine and bridge.
type Interactor struct {
	engine  *wait.Engine
	bridge  *script.Bridge
	session remote.Session
	cfg     config.ScriptConfig
	logger  *zap.Logger
}

// New creates an Interactor. The bridge is used for hidden file inputs.
func New(engine *wait.Engine, bridge *script.Bridge, cfg config.ScriptConfig, logger *zap.Logger) *Interactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interactor{
		engine:  engine,
		bridge:  bridge,
		session: engine.Session(),
		cfg:     cfg,
		logger:  logger.Named("interact"),
	}
}

func (i *Interactor) dispatch(ctx context.Context, loc locator.Locator, cmd remote.Command) error {
	if _, err := i.session.Dispatch(ctx, cmd); err != nil {
		return fmt.Errorf("interact: %s on %s: %w", cmd.Action, loc, err)
	}
	i.logger.Debug("Dispatched gesture.", zap.String("action", string(cmd.Action)), zap.Stringer("locator", loc))
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Click waits for loc to be clickable and clicks it.
func (i *Interactor) Click(ctx context.Context, loc locator.Locator, opts ...wait.Option) error {
	h, err := i.engine.Clickable(ctx, loc, opts...)
	if err != nil {
		return fmt.Errorf("interact: click %s: %w", loc, err)
	}
	return i.dispatch(ctx, loc, remote.Command{Target: h, Action: remote.ActionClick})
}

// Type waits for loc to be visible and sends text as key strokes.
func (i *Interactor) Type(ctx context.Context, loc locator.Locator, text string, opts ...wait.Option) error {
	h, err := i.engine.Visible(ctx, loc, opts...)
	if err != nil {
		return fmt.Errorf("interact: type into %s: %w", loc, err)
	}
	return i.dispatch(ctx, loc, remote.Command{Target: h, Action: remote.ActionSendKeys, Args: []any{text}})
}

// Hover moves the pointer over loc and pauses so hover effects can show.
func (i *Interactor) Hover(ctx context.Context, loc locator.Locator, opts ...wait.Option) error {
	h, err := i.engine.Visible(ctx, loc, opts...)
	if err != nil {
		return fmt.Errorf("interact: hover %s: %w", loc, err)
	}
	if err := i.dispatch(ctx, loc, remote.Command{Target: h, Action: remote.ActionHover}); err != nil {
		return err
	}
	return pause(ctx, i.cfg.HoverSettle)
}

// HoverAndClick hovers menuLoc and then clicks itemLoc once it becomes
// clickable, as for menus that only open on hover.
func (i *Interactor) HoverAndClick(ctx context.Context, menuLoc, itemLoc locator.Locator, opts ...wait.Option) error {
	h, err := i.engine.Visible(ctx, menuLoc, opts...)
	if err != nil {
		return fmt.Errorf("interact: hover %s: %w", menuLoc, err)
	}
	if err := i.dispatch(ctx, menuLoc, remote.Command{Target: h, Action: remote.ActionHover}); err != nil {
		return err
	}
	return i.Click(ctx, itemLoc, opts...)
}

// RightClick opens the context menu of loc.
func (i *Interactor) RightClick(ctx context.Context, loc locator.Locator, opts ...wait.Option) error {
	h, err := i.engine.Clickable(ctx, loc, opts...)
	if err != nil {
		return fmt.Errorf("interact: right-click %s: %w", loc, err)
	}
	return i.dispatch(ctx, loc, remote.Command{Target: h, Action: remote.ActionContextClick})
}

// DragAndDrop drags src onto dst. It reports success rather than failing:
// any error is logged and yields false.
func (i *Interactor) DragAndDrop(ctx context.Context, src, dst locator.Locator, opts ...wait.Option) bool {
	err := func() error {
		from, err := i.engine.Visible(ctx, src, opts...)
		if err != nil {
			return err
		}
		to, err := i.engine.Visible(ctx, dst, opts...)
		if err != nil {
			return err
		}
		return i.dispatch(ctx, src, remote.Command{Target: from, Action: remote.ActionDragTo, Args: []any{to}})
	}()
	if err != nil {
		i.logger.Warn("Drag and drop failed.", zap.Stringer("source", src), zap.Stringer("target", dst), zap.Error(err))
		return false
	}
	return true
}

// UploadFile attaches the file at path to the file input loc. A leading ~ is
// expanded, the file must exist, and a hidden input is made visible first.
func (i *Interactor) UploadFile(ctx context.Context, loc locator.Locator, path string, opts ...wait.Option) error {
	abs, err := resolveUpload(path)
	if err != nil {
		return err
	}
	h, err := i.engine.Present(ctx, loc, opts...)
	if err != nil {
		return fmt.Errorf("interact: upload to %s: %w", loc, err)
	}
	st, err := i.session.Read(ctx, h)
	if err != nil {
		return fmt.Errorf("interact: upload to %s: %w", loc, err)
	}
	if !st.Rendered {
		i.logger.Debug("Revealing hidden file input.", zap.Stringer("locator", loc))
		if err := i.bridge.RevealHidden(ctx, h); err != nil {
			return fmt.Errorf("interact: reveal %s: %w", loc, err)
		}
	}
	return i.dispatch(ctx, loc, remote.Command{Target: h, Action: remote.ActionSetFiles, Args: []any{[]string{abs}}})
}

func resolveUpload(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("interact: expand %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("interact: resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("interact: upload file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("interact: upload file %s is a directory", abs)
	}
	return abs, nil
}
