// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
)

const readStateJS = `function() {
	if (!this.isConnected) return {connected: false};
	const style = window.getComputedStyle(this);
	const rect = this.getBoundingClientRect();
	return {
		connected: true,
		rendered: style.display !== 'none' && style.visibility !== 'hidden' && rect.width > 0 && rect.height > 0,
		enabled: !this.disabled,
		text: this.innerText ?? this.textContent ?? ''
	};
}`

const defaultViewJS = `function() { return this.defaultView; }`

type nodeState struct {
	Connected bool   `json:"connected"`
	Rendered  bool   `json:"rendered"`
	Enabled   bool   `json:"enabled"`
	Text      string `json:"text"`
}

// element is the handle type returned by Session. It is valid only in the
// focus scope it was found in.
type element struct {
	node   *cdp.Node
	window remote.WindowHandle
	scope  uint64
}

func (e *element) Ref() string {
	return fmt.Sprintf("%s/%d", e.window, e.node.BackendNodeID)
}

// tab is one attached page target.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	dialogOpen bool
	dialogText string
	promptText string
}

func (t *tab) listen() {
	chromedp.ListenTarget(t.ctx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			t.mu.Lock()
			t.dialogOpen, t.dialogText, t.promptText = true, e.Message, e.DefaultPrompt
			t.mu.Unlock()
		case *page.EventJavascriptDialogClosed:
			t.mu.Lock()
			t.dialogOpen, t.dialogText, t.promptText = false, "", ""
			t.mu.Unlock()
		}
	})
}

// Session is a remote.Session backed by a Chrome DevTools Protocol browser.
// Windows map to page targets, frames to iframe nodes queried through
// chromedp.FromNode, and alerts to JavaScript dialog events.
type Session struct {
	id         string
	logger     *zap.Logger
	cmdTimeout time.Duration

	browserCtx context.Context
	cancel     context.CancelFunc
	onClose    func()
	closeOnce  sync.Once

	mu      sync.Mutex
	tabs    map[remote.WindowHandle]*tab
	current remote.WindowHandle
	frames  []*cdp.Node
	scope   uint64
}

var _ remote.Session = (*Session)(nil)

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close shuts down the browser context owned by the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
}

// Navigate loads url in the current window and resets focus to its top document.
func (s *Session) Navigate(ctx context.Context, url string) error {
	t, err := s.activeTab()
	if err != nil {
		return err
	}
	if err := s.run(ctx, t, "navigate", chromedp.Navigate(url)); err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = nil
	s.scope++
	s.mu.Unlock()
	return nil
}

func (s *Session) activeTab() (*tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[s.current]
	if !ok {
		return nil, remote.NewError(remote.KindInvalidWindow, "focus", "window %s is not attached", s.current)
	}
	return t, nil
}

func (s *Session) innermostFrame() *cdp.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// run executes actions on t, bounded by ctx and the command timeout.
func (s *Session) run(ctx context.Context, t *tab, op string, actions ...chromedp.Action) error {
	rctx, cancel := bind(t.ctx, ctx, s.cmdTimeout)
	defer cancel()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mapError(op, err)
	}
	return nil
}

func (s *Session) nodes(ctx context.Context, loc locator.Locator) ([]*cdp.Node, error) {
	q, err := translate(loc)
	if err != nil {
		return nil, remote.WrapError(remote.KindInvalidLocator, "find", err)
	}
	t, err := s.activeTab()
	if err != nil {
		return nil, err
	}
	opts := []chromedp.QueryOption{q.by(), chromedp.AtLeast(0)}
	if frame := s.innermostFrame(); frame != nil {
		if q.xpath {
			return nil, remote.NewError(remote.KindUnsupported, "find", "xpath lookups inside frames are not supported: %s", loc)
		}
		opts = append(opts, chromedp.FromNode(frame))
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, t, "find", chromedp.Nodes(q.selector, &nodes, opts...)); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *Session) wrap(nodes []*cdp.Node) []remote.ElementHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{node: n, window: s.current, scope: s.scope})
	}
	return out
}

func (s *Session) Find(ctx context.Context, loc locator.Locator) (remote.ElementHandle, error) {
	nodes, err := s.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, remote.NewError(remote.KindNotFound, "find", "no node matches %s", loc)
	}
	return s.wrap(nodes[:1])[0], nil
}

func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]remote.ElementHandle, error) {
	nodes, err := s.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	return s.wrap(nodes), nil
}

// element checks that h was issued by this session in the active scope.
func (s *Session) element(op string, h remote.ElementHandle) (*element, *tab, error) {
	el, ok := h.(*element)
	if !ok || el == nil {
		return nil, nil, remote.NewError(remote.KindStale, op, "handle %v was not issued by this session", h)
	}
	s.mu.Lock()
	inScope := el.window == s.current && el.scope == s.scope
	s.mu.Unlock()
	if !inScope {
		return nil, nil, remote.NewError(remote.KindStale, op, "node %s belongs to another focus context", el.Ref())
	}
	t, err := s.activeTab()
	return el, t, err
}

func resolve(ctx context.Context, el *element) (runtime.RemoteObjectID, error) {
	obj, err := dom.ResolveNode().WithBackendNodeID(el.node.BackendNodeID).Do(ctx)
	if err != nil {
		return "", remote.WrapError(remote.KindStale, "resolve", err)
	}
	return obj.ObjectID, nil
}

func decodeValue(res *runtime.RemoteObject) (any, error) {
	if res == nil || res.Type == runtime.TypeUndefined || len(res.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := jsoniter.Unmarshal(res.Value, &v); err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	return v, nil
}

// call invokes decl with this bound to obj and returns the decoded result.
func call(ctx context.Context, obj runtime.RemoteObjectID, decl string, args []*runtime.CallArgument) (any, error) {
	res, exc, err := runtime.CallFunctionOn(decl).
		WithObjectID(obj).
		WithArguments(args).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		WithSilent(true).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exc
	}
	return decodeValue(res)
}

func readState(ctx context.Context, el *element) (nodeState, error) {
	var st nodeState
	obj, err := resolve(ctx, el)
	if err != nil {
		return st, err
	}
	raw, err := call(ctx, obj, readStateJS, nil)
	if err != nil {
		return st, err
	}
	data, err := jsoniter.Marshal(raw)
	if err != nil {
		return st, err
	}
	if err := jsoniter.Unmarshal(data, &st); err != nil {
		return st, err
	}
	if !st.Connected {
		return st, remote.NewError(remote.KindStale, "read", "node %s is no longer attached", el.Ref())
	}
	return st, nil
}

func (s *Session) Read(ctx context.Context, h remote.ElementHandle) (remote.ElementState, error) {
	el, t, err := s.element("read", h)
	if err != nil {
		return remote.ElementState{}, err
	}
	var st nodeState
	err = s.run(ctx, t, "read", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		st, err = readState(ctx, el)
		return err
	}))
	if err != nil {
		return remote.ElementState{}, err
	}
	return remote.ElementState{Rendered: st.Rendered, Enabled: st.Enabled, Text: st.Text}, nil
}

func (s *Session) Dispatch(ctx context.Context, cmd remote.Command) (any, error) {
	op := "dispatch " + string(cmd.Action)
	s.logger.Debug("Dispatching command.", zap.String("action", string(cmd.Action)))

	switch cmd.Action {
	case remote.ActionSwitchFrame:
		return nil, s.switchFrame(ctx, op, cmd)
	case remote.ActionReturnToDefault:
		s.mu.Lock()
		s.frames = nil
		s.scope++
		s.mu.Unlock()
		return nil, nil
	case remote.ActionSwitchWindow:
		return nil, s.switchWindow(ctx, op, remote.WindowHandle(cmd.StringArg(0)))
	case remote.ActionSwitchAlert, remote.ActionAlertAccept, remote.ActionAlertDismiss, remote.ActionAlertSendKeys:
		return s.dialog(ctx, op, cmd)
	case remote.ActionRunScript:
		return s.runScript(ctx, op, cmd)
	}

	if cmd.Target == nil {
		return nil, remote.NewError(remote.KindUnsupported, op, "action needs a target")
	}
	el, t, err := s.element(op, cmd.Target)
	if err != nil {
		return nil, err
	}

	var action chromedp.Action
	switch cmd.Action {
	case remote.ActionClick:
		action = chromedp.MouseClickNode(el.node)
	case remote.ActionContextClick:
		action = chromedp.MouseClickNode(el.node, chromedp.ButtonType(input.Right))
	case remote.ActionSendKeys:
		action = chromedp.KeyEventNode(el.node, cmd.StringArg(0))
	case remote.ActionHover:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			x, y, err := center(ctx, el)
			if err != nil {
				return err
			}
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		})
	case remote.ActionDragTo:
		dst, _, err := s.element(op, argHandle(cmd, 0))
		if err != nil {
			return nil, err
		}
		action = dragAction(el, dst)
	case remote.ActionSetFiles:
		files, _ := argAt(cmd, 0).([]string)
		if len(files) == 0 {
			return nil, remote.NewError(remote.KindUnsupported, op, "no files given")
		}
		action = dom.SetFileInputFiles(files).WithBackendNodeID(el.node.BackendNodeID)
	default:
		return nil, remote.NewError(remote.KindUnsupported, op, "unknown action %q", cmd.Action)
	}

	live := chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := readState(ctx, el)
		return err
	})
	return nil, s.run(ctx, t, op, live, action)
}

func argAt(cmd remote.Command, i int) any {
	if i < 0 || i >= len(cmd.Args) {
		return nil
	}
	return cmd.Args[i]
}

func argHandle(cmd remote.Command, i int) remote.ElementHandle {
	h, _ := argAt(cmd, i).(remote.ElementHandle)
	return h
}

func center(ctx context.Context, el *element) (float64, float64, error) {
	box, err := dom.GetBoxModel().WithBackendNodeID(el.node.BackendNodeID).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	q := box.Content
	if len(q) < 8 {
		return 0, 0, errors.New("box model has no content quad")
	}
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

const dragSteps = 10

func dragAction(src, dst *element) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		x0, y0, err := center(ctx, src)
		if err != nil {
			return err
		}
		x1, y1, err := center(ctx, dst)
		if err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, x0, y0).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x0, y0).
			WithButton(input.Left).WithButtons(1).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		for i := 1; i <= dragSteps; i++ {
			f := float64(i) / dragSteps
			x, y := x0+(x1-x0)*f, y0+(y1-y0)*f
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).
				WithButton(input.Left).WithButtons(1).Do(ctx); err != nil {
				return err
			}
		}
		return input.DispatchMouseEvent(input.MouseReleased, x1, y1).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	})
}

func isFrameNode(n *cdp.Node) bool {
	name := strings.ToUpper(n.NodeName)
	return name == "IFRAME" || name == "FRAME"
}

func (s *Session) switchFrame(ctx context.Context, op string, cmd remote.Command) error {
	var frame *cdp.Node
	if cmd.Target != nil {
		el, _, err := s.element(op, cmd.Target)
		if err != nil {
			return err
		}
		if !isFrameNode(el.node) {
			return remote.NewError(remote.KindNoSuchFrame, op, "node %s is a %s, not a frame", el.Ref(), el.node.NodeName)
		}
		frame = el.node
	} else {
		name := cmd.StringArg(0)
		nodes, err := s.nodes(ctx, locator.ByCSS(frameSelector(name)))
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return remote.NewError(remote.KindNoSuchFrame, op, "no frame named %q", name)
		}
		frame = nodes[0]
	}

	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.scope++
	s.mu.Unlock()
	return nil
}

func (s *Session) switchWindow(ctx context.Context, op string, h remote.WindowHandle) error {
	s.mu.Lock()
	_, attached := s.tabs[h]
	s.mu.Unlock()

	if !attached {
		handles, err := s.WindowHandles(ctx)
		if err != nil {
			return err
		}
		known := false
		for _, w := range handles {
			known = known || w == h
		}
		if !known {
			return remote.NewError(remote.KindInvalidWindow, op, "no window %q", h)
		}
		tctx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(h)))
		if err := chromedp.Run(tctx); err != nil {
			cancel()
			return mapError(op, err)
		}
		t := &tab{ctx: tctx, cancel: cancel}
		t.listen()
		s.mu.Lock()
		s.tabs[h] = t
		s.mu.Unlock()
	}

	t := s.tabFor(h)
	if err := s.run(ctx, t, op, page.BringToFront()); err != nil {
		s.logger.Debug("Could not bring window to front.", zap.String("window", string(h)), zap.Error(err))
	}

	s.mu.Lock()
	s.current = h
	s.frames = nil
	s.scope++
	s.mu.Unlock()
	return nil
}

func (s *Session) tabFor(h remote.WindowHandle) *tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[h]
}

func (s *Session) dialog(ctx context.Context, op string, cmd remote.Command) (any, error) {
	t, err := s.activeTab()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	open, text, prompt := t.dialogOpen, t.dialogText, t.promptText
	if open && cmd.Action == remote.ActionAlertSendKeys {
		t.promptText = cmd.StringArg(0)
	}
	t.mu.Unlock()

	if !open {
		return nil, remote.NewError(remote.KindNoAlert, op, "no dialog is open")
	}
	switch cmd.Action {
	case remote.ActionSwitchAlert:
		return text, nil
	case remote.ActionAlertSendKeys:
		return nil, nil
	}

	accept := cmd.Action == remote.ActionAlertAccept
	handle := page.HandleJavaScriptDialog(accept)
	if accept && prompt != "" {
		handle = handle.WithPromptText(prompt)
	}
	if err := s.run(ctx, t, op, handle); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.dialogOpen, t.dialogText, t.promptText = false, "", ""
	t.mu.Unlock()
	return nil, nil
}

// runScript wraps the source in a function so it can use `arguments`, `this`
// and `return`. Without a target, `this` is the window of the focused document.
func (s *Session) runScript(ctx context.Context, op string, cmd remote.Command) (any, error) {
	source := cmd.StringArg(0)
	decl := "function() {\n" + source + "\n}"

	var (
		el  *element
		t   *tab
		err error
	)
	if cmd.Target != nil {
		if el, t, err = s.element(op, cmd.Target); err != nil {
			return nil, err
		}
	} else if t, err = s.activeTab(); err != nil {
		return nil, err
	}
	frame := s.innermostFrame()

	var out any
	err = s.run(ctx, t, op, chromedp.ActionFunc(func(ctx context.Context) error {
		this, err := s.scriptThis(ctx, el, frame)
		if err != nil {
			return err
		}
		var args []*runtime.CallArgument
		for i := 1; i < len(cmd.Args); i++ {
			a := cmd.Args[i]
			ca, err := s.argument(ctx, op, a)
			if err != nil {
				return err
			}
			args = append(args, ca)
		}
		out, err = call(ctx, this, decl, args)
		return err
	}))
	return out, err
}

func (s *Session) scriptThis(ctx context.Context, el *element, frame *cdp.Node) (runtime.RemoteObjectID, error) {
	if el != nil {
		return resolve(ctx, el)
	}
	if frame == nil {
		win, exc, err := runtime.Evaluate("window").Do(ctx)
		if err != nil {
			return "", err
		}
		if exc != nil {
			return "", exc
		}
		return win.ObjectID, nil
	}
	// The function runs in the realm of the object it is called on, so the
	// window must come from the frame's document, not the iframe element.
	doc, err := contentDocument(ctx, frame)
	if err != nil {
		return "", err
	}
	obj, err := resolve(ctx, &element{node: doc})
	if err != nil {
		return "", err
	}
	win, exc, err := runtime.CallFunctionOn(defaultViewJS).WithObjectID(obj).Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exc
	}
	return win.ObjectID, nil
}

// contentDocument returns the document node of a frame element, asking the
// browser when the node was fetched without it.
func contentDocument(ctx context.Context, frame *cdp.Node) (*cdp.Node, error) {
	if frame.ContentDocument != nil {
		return frame.ContentDocument, nil
	}
	desc, err := dom.DescribeNode().WithBackendNodeID(frame.BackendNodeID).Do(ctx)
	if err != nil {
		return nil, mapError("frame document", err)
	}
	if desc.ContentDocument == nil {
		return nil, remote.NewError(remote.KindUnsupported, "frame document", "frame node %d exposes no document", frame.BackendNodeID)
	}
	return desc.ContentDocument, nil
}

func (s *Session) argument(ctx context.Context, op string, a any) (*runtime.CallArgument, error) {
	if h, ok := a.(remote.ElementHandle); ok {
		el, _, err := s.element(op, h)
		if err != nil {
			return nil, err
		}
		obj, err := resolve(ctx, el)
		if err != nil {
			return nil, err
		}
		return &runtime.CallArgument{ObjectID: obj}, nil
	}
	data, err := jsoniter.Marshal(a)
	if err != nil {
		return nil, remote.WrapError(remote.KindUnsupported, op, fmt.Errorf("encoding script argument: %w", err))
	}
	return &runtime.CallArgument{Value: data}, nil
}

// WindowHandles lists page targets in the order the browser reports them.
func (s *Session) WindowHandles(ctx context.Context) ([]remote.WindowHandle, error) {
	rctx, cancel := bind(s.browserCtx, ctx, s.cmdTimeout)
	defer cancel()
	infos, err := chromedp.Targets(rctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mapError("window handles", err)
	}
	handles := make([]remote.WindowHandle, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			handles = append(handles, remote.WindowHandle(info.TargetID))
		}
	}
	return handles, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	t, err := s.activeTab()
	if err != nil {
		return "", err
	}
	var u string
	err = s.run(ctx, t, "current url", chromedp.Location(&u))
	return u, err
}

func (s *Session) CurrentTitle(ctx context.Context) (string, error) {
	t, err := s.activeTab()
	if err != nil {
		return "", err
	}
	var title string
	err = s.run(ctx, t, "current title", chromedp.Title(&title))
	return title, err
}
