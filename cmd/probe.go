// cmd/probe.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/browser"
	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/focus"
	"github.com/xkilldash9x/settle/internal/interact"
	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/observability"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/script"
	"github.com/xkilldash9x/settle/internal/wait"
)

// probeSession is a remote session the probe can drive from a blank start.
type probeSession interface {
	remote.Session
	Navigate(ctx context.Context, url string) error
	Close()
}

// openSession starts the browser session a probe runs against. The returned
// shutdown function releases the browser. Tests replace it.
var openSession = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (probeSession, func(context.Context) error, error) {
	mgr := browser.NewManager(ctx, cfg.Browser(), logger)
	s, err := mgr.NewSession(ctx)
	if err != nil {
		_ = mgr.Shutdown(context.Background())
		return nil, nil, err
	}
	return s, mgr.Shutdown, nil
}

type probeOptions struct {
	url         string
	target      locator.Locator
	until       string
	frame       locator.Locator
	frameVerify locator.Locator
	script      string
	click       bool
	typeText    string
	highlight   bool
}

// untilKinds are the conditions accepted by --until. text= takes a fragment.
var untilKinds = map[string]bool{
	"present":   false,
	"visible":   false,
	"clickable": false,
	"gone":      false,
	"text":      true,
}

func parseUntil(s string) (kind, arg string, err error) {
	kind, arg, hasArg := strings.Cut(strings.TrimSpace(s), "=")
	kind = strings.ToLower(kind)
	needsArg, ok := untilKinds[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown condition %q (want present, visible, clickable, gone or text=<fragment>)", s)
	}
	if needsArg && (!hasArg || arg == "") {
		return "", "", fmt.Errorf("condition %q needs a value, e.g. %s=Done", kind, kind)
	}
	if !needsArg && hasArg {
		return "", "", fmt.Errorf("condition %q takes no value", kind)
	}
	return kind, arg, nil
}

func newProbeCmd() *cobra.Command {
	var (
		opts       probeOptions
		frameExpr  string
		verifyExpr string
		timeout    time.Duration
		poll       time.Duration
		headless   bool
		remoteURL  string
		scriptFile string
	)

	probeCmd := &cobra.Command{
		Use:   "probe <url> [locator]",
		Short: "Load a page, wait for a condition on an element, then act on it",
		Long: `Loads <url>, optionally enters a frame, and waits until the element found by
[locator] meets --until. Locators use the strategy=value form (id=login,
xpath=//button, link=Sign in); a bare value is treated as a CSS selector.

After the wait, --click, --type and --highlight act on the element and --script
runs a function body with the element bound to "this". The script's return
value is printed as JSON.`,
		Args: cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			opts.url = args[0]
			if len(args) == 2 {
				loc, err := locator.Parse(args[1])
				if err != nil {
					return err
				}
				opts.target = loc
			}
			kind, _, err := parseUntil(opts.until)
			if err != nil {
				return err
			}
			acts := opts.click || opts.typeText != "" || opts.highlight
			if acts && (opts.target.IsZero() || kind == "gone") {
				return fmt.Errorf("--click, --type and --highlight need a locator that stays on the page")
			}
			if frameExpr != "" {
				loc, err := locator.Parse(frameExpr)
				if err != nil {
					return fmt.Errorf("--frame: %w", err)
				}
				opts.frame = loc
				opts.frameVerify = locator.ByTagName("body")
				if verifyExpr != "" {
					if opts.frameVerify, err = locator.Parse(verifyExpr); err != nil {
						return fmt.Errorf("--frame-verify: %w", err)
					}
				}
			}
			if scriptFile != "" {
				if opts.script != "" {
					return fmt.Errorf("--script and --script-file are mutually exclusive")
				}
				src, err := readScriptFile(scriptFile)
				if err != nil {
					return err
				}
				opts.script = src
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg, timeout, poll, headless, remoteURL)

			logger := observability.GetLogger().Named("probe")
			session, shutdown, err := openSession(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open browser session: %w", err)
			}
			defer func() {
				session.Close()
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown failed.", zap.Error(err))
				}
			}()

			tk, err := newToolkit(session, cfg, logger)
			if err != nil {
				return err
			}
			return tk.probe(ctx, cmd.OutOrStdout(), opts)
		},
	}

	f := probeCmd.Flags()
	f.StringVarP(&opts.until, "until", "u", "visible", "condition to wait for: present, visible, clickable, gone or text=<fragment>")
	f.StringVar(&frameExpr, "frame", "", "locator of a frame to enter before waiting")
	f.StringVar(&verifyExpr, "frame-verify", "", "locator that must be present inside the frame (default tag=body)")
	f.StringVarP(&opts.script, "script", "s", "", "function body to run after the wait; its return value is printed")
	f.StringVar(&scriptFile, "script-file", "", "read the script body from a file")
	f.BoolVar(&opts.click, "click", false, "click the element once it is clickable")
	f.StringVar(&opts.typeText, "type", "", "type text into the element once it is visible")
	f.BoolVar(&opts.highlight, "highlight", false, "outline the element briefly")
	f.DurationVarP(&timeout, "timeout", "t", 0, "wait timeout (overrides config)")
	f.DurationVar(&poll, "poll", 0, "poll interval (overrides config)")
	f.BoolVar(&headless, "headless", true, "run the browser headless (overrides config)")
	f.StringVar(&remoteURL, "remote-url", "", "DevTools websocket URL of an already running browser")

	return probeCmd
}

func readScriptFile(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("--script-file: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf("--script-file: %w", err)
	}
	return string(data), nil
}

// applyOverrides copies explicitly set flags into cfg.
func applyOverrides(cmd *cobra.Command, cfg config.Interface, timeout, poll time.Duration, headless bool, remoteURL string) {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.SetWaitTimeout(timeout)
	}
	if flags.Changed("poll") {
		cfg.SetWaitPollInterval(poll)
	}
	if flags.Changed("headless") {
		cfg.SetBrowserHeadless(headless)
	}
	if flags.Changed("remote-url") {
		cfg.SetBrowserRemoteURL(remoteURL)
	}
}

// toolkit is the set of components built on one session.
type toolkit struct {
	session  probeSession
	engine   *wait.Engine
	focus    *focus.Switcher
	bridge   *script.Bridge
	interact *interact.Interactor
	logger   *zap.Logger
}

func newToolkit(s probeSession, cfg config.Interface, logger *zap.Logger) (*toolkit, error) {
	engine, err := wait.New(s, cfg.Wait(), logger)
	if err != nil {
		return nil, fmt.Errorf("invalid wait configuration: %w", err)
	}
	bridge := script.New(engine, cfg.Script(), logger)
	return &toolkit{
		session:  s,
		engine:   engine,
		focus:    focus.New(engine, logger),
		bridge:   bridge,
		interact: interact.New(engine, bridge, cfg.Script(), logger),
		logger:   logger,
	}, nil
}

func (tk *toolkit) probe(ctx context.Context, out io.Writer, opts probeOptions) error {
	if err := tk.session.Navigate(ctx, opts.url); err != nil {
		return fmt.Errorf("navigating to %s: %w", opts.url, err)
	}
	tk.logger.Info("Page loaded.", zap.String("url", opts.url))

	if !opts.frame.IsZero() {
		if err := tk.focus.EnterFrame(ctx, opts.frame, opts.frameVerify); err != nil {
			return err
		}
		fmt.Fprintf(out, "focus: %s\n", tk.focus.Current())
	}

	kind, arg, err := parseUntil(opts.until)
	if err != nil {
		return err
	}
	var target remote.ElementHandle
	if !opts.target.IsZero() {
		h, err := tk.await(ctx, opts.target, kind, arg)
		if err != nil {
			return err
		}
		target = h
		fmt.Fprintf(out, "condition met: %s %s\n", opts.until, opts.target)
	}

	if opts.highlight {
		if err := tk.bridge.Highlight(ctx, opts.target, "", 0); err != nil {
			return err
		}
	}
	if opts.click {
		if err := tk.interact.Click(ctx, opts.target); err != nil {
			return err
		}
		fmt.Fprintln(out, "clicked")
		target = nil
	}
	if opts.typeText != "" {
		if err := tk.interact.Type(ctx, opts.target, opts.typeText); err != nil {
			return err
		}
		fmt.Fprintln(out, "typed")
		target = nil
	}

	if opts.script == "" {
		return nil
	}
	if target == nil && !opts.target.IsZero() && kind != "gone" {
		// The handle from the wait may have gone stale during the actions.
		h, err := tk.engine.Present(ctx, opts.target)
		if err != nil {
			return err
		}
		target = h
	}
	result, err := script.Execute[any](ctx, tk.bridge, script.Invocation{Source: opts.script, Target: target})
	if err != nil {
		return err
	}
	data, err := jsoniter.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding script result: %w", err)
	}
	fmt.Fprintf(out, "%s\n", data)
	return nil
}

// await blocks until loc meets the condition parsed from --until. For
// "gone" the returned handle is nil.
func (tk *toolkit) await(ctx context.Context, loc locator.Locator, kind, arg string) (remote.ElementHandle, error) {
	switch kind {
	case "present":
		return tk.engine.Present(ctx, loc)
	case "visible":
		return tk.engine.Visible(ctx, loc)
	case "clickable":
		return tk.engine.Clickable(ctx, loc)
	case "text":
		return tk.engine.TextContains(ctx, loc, arg)
	default:
		_, err := tk.engine.Disappeared(ctx, loc)
		return nil, err
	}
}
