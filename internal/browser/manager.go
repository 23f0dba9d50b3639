// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/remote"
)

const shutdownTimeout = 10 * time.Second

// Manager owns the browser allocator and the sessions opened on it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager prepares an allocator: a local Chrome process, or a remote one
// when cfg.RemoteURL is set. No browser is started until NewSession.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	var allocCtx context.Context
	var cancel context.CancelFunc
	if cfg.RemoteURL != "" {
		logger.Info("Connecting to remote browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, cancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		allocCtx, cancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: cancel,
		sessions:    make(map[string]*Session),
	}
}

// AllocatorOptions builds the exec allocator flags for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-popup-blocking", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	for _, arg := range cfg.Args {
		if name, value, ok := parseFlag(arg); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseFlag turns "--name=value" or "--name" into a chromedp flag.
func parseFlag(arg string) (string, any, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	if name, value, found := strings.Cut(arg, "="); found {
		return name, value, name != ""
	}
	return arg, true, true
}

// NewSession starts a browser tab and returns a Session focused on it.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("browser manager is shut down")
	}
	m.mu.Unlock()

	sugar := m.logger.Sugar()
	browserCtx, cancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	// The first Run starts the browser and ties it to browserCtx, so it must
	// not run on a derived context. The launch timeout cancels it instead.
	var timer *time.Timer
	if m.cfg.LaunchTimeout > 0 {
		timer = time.AfterFunc(m.cfg.LaunchTimeout, cancel)
	}
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(browserCtx)
	stop()
	if timer != nil && !timer.Stop() {
		err = fmt.Errorf("browser did not start within %s", m.cfg.LaunchTimeout)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil {
		cancel()
		return nil, errors.New("browser session has no target")
	}
	handle := remote.WindowHandle(c.Target.TargetID)

	id := uuid.NewString()
	t := &tab{ctx: browserCtx, cancel: cancel}
	t.listen()
	s := &Session{
		id:         id,
		logger:     m.logger.With(zap.String("session_id", id)),
		cmdTimeout: m.cfg.CommandTimeout,
		browserCtx: browserCtx,
		cancel:     cancel,
		tabs:       map[remote.WindowHandle]*tab{handle: t},
		current:    handle,
	}
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.logger.Debug("Session started.", zap.String("session_id", id), zap.String("window", string(handle)))
	return s, nil
}

// Shutdown closes every session and the browser itself.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	// The allocator's cancel blocks until the browser process has exited.
	done := make(chan struct{})
	go func() {
		m.allocCancel()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	select {
	case <-done:
		m.logger.Info("Browser shut down.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for browser shutdown.")
		return ctx.Err()
	}
}
