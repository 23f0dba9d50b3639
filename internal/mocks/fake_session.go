// File: internal/mocks/fake_session.go
package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
)

// MainWindow is the handle of the window a FakeSession starts with.
const MainWindow remote.WindowHandle = "main"

// FakeSession is an in-memory remote.Session: a set of windows, each holding
// a top document and nested frame documents keyed by frame name. Nodes are
// registered per document under the locator that finds them.
//
// Mutations can be scheduled relative to the session's creation with After.
// They are applied lazily at the start of every Session call whose wall-clock
// time has reached them, so timing tests need no background goroutines.
type FakeSession struct {
	mu      sync.Mutex
	start   time.Time
	pending []scheduled

	windows map[remote.WindowHandle]*fakeWindow
	order   []remote.WindowHandle
	current remote.WindowHandle
	frames  []string

	alertOpen  bool
	alertText  string
	promptText string
	closed     bool

	handlers map[remote.Action]func(remote.Command) (any, error)
	findErrs map[locator.Locator]error
	calls    map[remote.Action]int
	lookups  int
	reads    int
}

type scheduled struct {
	at time.Duration
	fn func(*FakeSession)
}

type fakeWindow struct {
	title string
	url   string
	docs  map[string]map[locator.Locator][]*FakeElement
}

// FakeElement is the handle type FakeSession returns.
type FakeElement struct {
	ref      string
	window   remote.WindowHandle
	doc      string
	state    remote.ElementState
	attached bool
	frame    string // child frame name when this node is an iframe
}

func (e *FakeElement) Ref() string { return e.ref }

// Attached reports whether the node is still part of its document.
func (e *FakeElement) Attached() bool { return e.attached }

var _ remote.Session = (*FakeSession)(nil)

// NewFakeSession returns a session with one empty window, MainWindow.
func NewFakeSession() *FakeSession {
	f := &FakeSession{
		start:    time.Now(),
		windows:  map[remote.WindowHandle]*fakeWindow{},
		handlers: map[remote.Action]func(remote.Command) (any, error){},
		findErrs: map[locator.Locator]error{},
		calls:    map[remote.Action]int{},
	}
	f.openWindow(MainWindow, "", "about:blank")
	f.current = MainWindow
	return f
}

// -- Setup --

// Doc addresses a document: the top document of window w, or a frame document
// reached through the named frames.
type Doc struct {
	f      *FakeSession
	window remote.WindowHandle
	path   string
}

// Main returns the top document of MainWindow.
func (f *FakeSession) Main() Doc { return f.Doc(MainWindow) }

// Doc returns the document of window w nested under frames.
func (f *FakeSession) Doc(w remote.WindowHandle, frames ...string) Doc {
	return Doc{f: f, window: w, path: strings.Join(frames, "/")}
}

// Put adds a node matching loc, replacing (and staling) any existing ones.
func (d Doc) Put(loc locator.Locator, st remote.ElementState) *FakeElement {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	return d.put(loc, st, "")
}

// Append adds another node matching loc after the existing ones.
func (d Doc) Append(loc locator.Locator, st remote.ElementState) *FakeElement {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	el := d.newElement(st, "")
	nodes := d.nodes()
	nodes[loc] = append(nodes[loc], el)
	return el
}

// AddFrame adds an iframe node matching loc whose content document is named name.
func (d Doc) AddFrame(loc locator.Locator, name string) *FakeElement {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	return d.put(loc, remote.ElementState{Rendered: true, Enabled: true}, name)
}

// Update mutates the state of the current nodes for loc in place; handles stay valid.
func (d Doc) Update(loc locator.Locator, fn func(*remote.ElementState)) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	for _, el := range d.nodes()[loc] {
		fn(&el.state)
	}
}

// Remove detaches every node matching loc; outstanding handles go stale.
func (d Doc) Remove(loc locator.Locator) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	nodes := d.nodes()
	for _, el := range nodes[loc] {
		el.attached = false
	}
	delete(nodes, loc)
}

func (d Doc) nodes() map[locator.Locator][]*FakeElement {
	w := d.f.windows[d.window]
	if w == nil {
		w = d.f.openWindow(d.window, "", "about:blank")
	}
	nodes := w.docs[d.path]
	if nodes == nil {
		nodes = map[locator.Locator][]*FakeElement{}
		w.docs[d.path] = nodes
	}
	return nodes
}

func (d Doc) newElement(st remote.ElementState, frame string) *FakeElement {
	return &FakeElement{
		ref:      uuid.NewString(),
		window:   d.window,
		doc:      d.path,
		state:    st,
		attached: true,
		frame:    frame,
	}
}

func (d Doc) put(loc locator.Locator, st remote.ElementState, frame string) *FakeElement {
	nodes := d.nodes()
	for _, old := range nodes[loc] {
		old.attached = false
	}
	el := d.newElement(st, frame)
	nodes[loc] = []*FakeElement{el}
	return el
}

// After schedules fn to run once d has elapsed since the session was created.
func (f *FakeSession) After(d time.Duration, fn func(*FakeSession)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, scheduled{at: d, fn: fn})
	sort.SliceStable(f.pending, func(i, j int) bool { return f.pending[i].at < f.pending[j].at })
}

// OpenWindow adds a window at the end of the handle listing.
func (f *FakeSession) OpenWindow(h remote.WindowHandle, title, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openWindow(h, title, url)
}

func (f *FakeSession) openWindow(h remote.WindowHandle, title, url string) *fakeWindow {
	if w, ok := f.windows[h]; ok {
		return w
	}
	w := &fakeWindow{title: title, url: url, docs: map[string]map[locator.Locator][]*FakeElement{}}
	f.windows[h] = w
	f.order = append(f.order, h)
	return w
}

// SetTitle changes the title of window h.
func (f *FakeSession) SetTitle(h remote.WindowHandle, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		w.title = title
	}
}

// SetURL changes the URL of window h.
func (f *FakeSession) SetURL(h remote.WindowHandle, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.windows[h]; ok {
		w.url = url
	}
}

// OpenAlert raises a modal alert with the given text.
func (f *FakeSession) OpenAlert(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertOpen, f.alertText = true, text
}

// AlertOpen reports whether an alert is showing; PromptText is the last text sent to it.
func (f *FakeSession) AlertOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alertOpen
}

func (f *FakeSession) PromptText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promptText
}

// Handle installs the result producer for an action. ActionRunScript commands
// without a handler return (nil, nil).
func (f *FakeSession) Handle(a remote.Action, fn func(remote.Command) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[a] = fn
}

// FailFind makes every lookup of loc fail with err.
func (f *FakeSession) FailFind(loc locator.Locator, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findErrs[loc] = err
}

// -- Inspection --

// Calls returns how many commands with action a were dispatched.
func (f *FakeSession) Calls(a remote.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[a]
}

// Lookups returns how many Find and FindAll calls were made.
func (f *FakeSession) Lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

// Reads returns how many Read calls were made.
func (f *FakeSession) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Focus returns the active window and frame path.
func (f *FakeSession) Focus() (remote.WindowHandle, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, append([]string(nil), f.frames...)
}

// -- remote.Session --

// tick applies due mutations and then takes the lock for the caller.
func (f *FakeSession) tick() {
	f.mu.Lock()
	elapsed := time.Since(f.start)
	var due []scheduled
	for len(f.pending) > 0 && f.pending[0].at <= elapsed {
		due = append(due, f.pending[0])
		f.pending = f.pending[1:]
	}
	f.mu.Unlock()

	for _, s := range due {
		s.fn(f)
	}
	f.mu.Lock()
}

func (f *FakeSession) currentDoc() Doc {
	return Doc{f: f, window: f.current, path: strings.Join(f.frames, "/")}
}

func (f *FakeSession) Find(ctx context.Context, loc locator.Locator) (remote.ElementHandle, error) {
	f.tick()
	defer f.mu.Unlock()
	f.lookups++
	if err := f.findErrs[loc]; err != nil {
		return nil, err
	}
	nodes := f.currentDoc().nodes()[loc]
	if len(nodes) == 0 {
		return nil, remote.NewError(remote.KindNotFound, "find", "no node matches %s", loc)
	}
	return nodes[0], nil
}

func (f *FakeSession) FindAll(ctx context.Context, loc locator.Locator) ([]remote.ElementHandle, error) {
	f.tick()
	defer f.mu.Unlock()
	f.lookups++
	if err := f.findErrs[loc]; err != nil {
		return nil, err
	}
	nodes := f.currentDoc().nodes()[loc]
	out := make([]remote.ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

// element resolves h against the current document; nodes from other
// documents read as stale, as they would in a real browser.
func (f *FakeSession) element(op string, h remote.ElementHandle) (*FakeElement, error) {
	el, ok := h.(*FakeElement)
	if !ok || el == nil {
		return nil, remote.NewError(remote.KindStale, op, "foreign handle %v", h)
	}
	cur := f.currentDoc()
	if !el.attached || el.window != cur.window || el.doc != cur.path {
		return nil, remote.NewError(remote.KindStale, op, "node %s is no longer attached", el.ref)
	}
	return el, nil
}

func (f *FakeSession) Read(ctx context.Context, h remote.ElementHandle) (remote.ElementState, error) {
	f.tick()
	defer f.mu.Unlock()
	f.reads++
	el, err := f.element("read", h)
	if err != nil {
		return remote.ElementState{}, err
	}
	return el.state, nil
}

func (f *FakeSession) Dispatch(ctx context.Context, cmd remote.Command) (any, error) {
	f.tick()
	f.calls[cmd.Action]++
	op := "dispatch " + string(cmd.Action)

	var err error
	switch cmd.Action {
	case remote.ActionSwitchFrame:
		err = f.switchFrame(op, cmd)
	case remote.ActionSwitchWindow:
		h := remote.WindowHandle(cmd.StringArg(0))
		if _, ok := f.windows[h]; !ok {
			err = remote.NewError(remote.KindInvalidWindow, op, "no window %q", h)
		} else {
			f.current, f.frames = h, nil
		}
	case remote.ActionReturnToDefault:
		f.frames = nil
	case remote.ActionSwitchAlert:
		if !f.alertOpen {
			err = remote.NewError(remote.KindNoAlert, op, "no alert is open")
		} else {
			text := f.alertText
			f.mu.Unlock()
			return text, nil
		}
	case remote.ActionAlertAccept, remote.ActionAlertDismiss:
		if !f.alertOpen {
			err = remote.NewError(remote.KindNoAlert, op, "no alert is open")
		} else {
			f.alertOpen, f.alertText = false, ""
		}
	case remote.ActionAlertSendKeys:
		if !f.alertOpen {
			err = remote.NewError(remote.KindNoAlert, op, "no alert is open")
		} else {
			f.promptText = cmd.StringArg(0)
		}
	default:
		if cmd.Target != nil {
			_, err = f.element(op, cmd.Target)
		}
	}
	handler := f.handlers[cmd.Action]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if handler != nil {
		return handler(cmd)
	}
	return nil, nil
}

// switchFrame expects the lock to be held.
func (f *FakeSession) switchFrame(op string, cmd remote.Command) error {
	if cmd.Target != nil {
		el, err := f.element(op, cmd.Target)
		if err != nil {
			return err
		}
		if el.frame == "" {
			return remote.NewError(remote.KindNoSuchFrame, op, "node %s is not a frame", el.ref)
		}
		f.frames = append(f.frames, el.frame)
		return nil
	}
	name := cmd.StringArg(0)
	for loc, nodes := range f.currentDoc().nodes() {
		for _, el := range nodes {
			if el.frame == "" {
				continue
			}
			if el.frame == name || ((loc.Strategy == locator.StrategyID || loc.Strategy == locator.StrategyName) && loc.Value == name) {
				f.frames = append(f.frames, el.frame)
				return nil
			}
		}
	}
	return remote.NewError(remote.KindNoSuchFrame, op, "no frame named %q", name)
}

func (f *FakeSession) WindowHandles(ctx context.Context) ([]remote.WindowHandle, error) {
	f.tick()
	defer f.mu.Unlock()
	return append([]remote.WindowHandle(nil), f.order...), nil
}

func (f *FakeSession) CurrentURL(ctx context.Context) (string, error) {
	f.tick()
	defer f.mu.Unlock()
	return f.windows[f.current].url, nil
}

func (f *FakeSession) CurrentTitle(ctx context.Context) (string, error) {
	f.tick()
	defer f.mu.Unlock()
	return f.windows[f.current].title, nil
}

// Navigate sets the URL of the active window and returns focus to its top document.
func (f *FakeSession) Navigate(ctx context.Context, url string) error {
	f.tick()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.windows[f.current].url = url
	f.frames = nil
	return nil
}

// Close marks the session closed.
func (f *FakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Closed reports whether Close was called.
func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
