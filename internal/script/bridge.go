// internal/script/bridge.go
// Package script runs remote code through a session and hands back results
// checked against the Go type the caller asked for.
//
// Sources are function bodies: they read their arguments from `arguments`,
// see the optional target node as `this`, and produce a value with `return`.
package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/wait"
)

// strict rejects JSON that would only fit the target type by dropping data.
var strict = jsoniter.Config{
	EscapeHTML:             false,
	DisallowUnknownFields:  true,
	ValidateJsonRawMessage: true,
}.Froze()

// Invocation is one script run. Target, when set, is bound to `this`.
type Invocation struct {
	Source string
	Args   []any
	Target remote.ElementHandle
}

func (inv Invocation) command() remote.Command {
	return remote.Script(inv.Target, inv.Source, inv.Args...)
}

// ExecutionError is a runtime error raised by the script itself.
type ExecutionError struct {
	Source        string
	Args          []any
	RemoteMessage string
	Err           error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script: execution failed: %s (source: %s)", e.RemoteMessage, abbreviate(e.Source))
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// UnexpectedNullError is returned when a script yields null for a type that
// cannot hold it.
type UnexpectedNullError struct {
	ExpectedType string
}

func (e *UnexpectedNullError) Error() string {
	return fmt.Sprintf("script: returned null, expected %s", e.ExpectedType)
}

// CoercionError is returned when a non-null result does not fit the requested
// type. ActualType names the type the script produced.
type CoercionError struct {
	ActualType   string
	ExpectedType string
	Source       string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("script: cannot use result of type %s as %s (source: %s)",
		e.ActualType, e.ExpectedType, abbreviate(e.Source))
}

// Bridge executes scripts against the session of a wait engine. Element
// lookups made by the side-effect helpers go through the same engine.
type Bridge struct {
	engine  *wait.Engine
	session remote.Session
	cfg     config.ScriptConfig
	logger  *zap.Logger
}

// New creates a Bridge.
func New(engine *wait.Engine, cfg config.ScriptConfig, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		engine:  engine,
		session: engine.Session(),
		cfg:     cfg,
		logger:  logger.Named("script"),
	}
}

// run dispatches inv and maps script failures to *ExecutionError. Other
// failures, such as a stale target, are returned wrapped but unchanged in kind.
func (b *Bridge) run(ctx context.Context, inv Invocation) (any, error) {
	raw, err := b.session.Dispatch(ctx, inv.command())
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, remote.ErrScript) {
		msg := err.Error()
		var re *remote.Error
		if errors.As(err, &re) && re.Message != "" {
			msg = re.Message
		}
		b.logger.Debug("Script raised an error.",
			zap.String("source", abbreviate(inv.Source)),
			zap.Int("args", len(inv.Args)),
			zap.String("message", msg))
		return nil, &ExecutionError{Source: inv.Source, Args: inv.Args, RemoteMessage: msg, Err: err}
	}
	return nil, fmt.Errorf("script: %w", err)
}

// Run executes inv for its side effects and discards the result.
func (b *Bridge) Run(ctx context.Context, inv Invocation) error {
	_, err := b.run(ctx, inv)
	return err
}

// Execute runs inv and converts its result to T.
//
// A null result is accepted only when T can hold nil. A result that cannot be
// converted leads to a *CoercionError; to name the actual type the script is
// run a second time, so Execute must only be used with idempotent scripts
// when the result type might not match.
func Execute[T any](ctx context.Context, b *Bridge, inv Invocation) (T, error) {
	var zero T
	raw, err := b.run(ctx, inv)
	if err != nil {
		return zero, err
	}

	want := reflect.TypeOf((*T)(nil)).Elem()
	if raw == nil {
		if nillable(want) {
			return zero, nil
		}
		return zero, &UnexpectedNullError{ExpectedType: want.String()}
	}

	if v, ok := coerce[T](raw, want); ok {
		return v, nil
	}
	return zero, &CoercionError{
		ActualType:   b.describeResult(ctx, inv, raw),
		ExpectedType: want.String(),
		Source:       inv.Source,
	}
}

// TryExecute is Execute for best-effort probes: any failure yields (zero, false).
func TryExecute[T any](ctx context.Context, b *Bridge, inv Invocation) (T, bool) {
	v, err := Execute[T](ctx, b, inv)
	if err != nil {
		b.logger.Debug("Best-effort script failed.", zap.String("source", abbreviate(inv.Source)), zap.Error(err))
		var zero T
		return zero, false
	}
	return v, true
}

const describeWrapper = `const r = (function() { %s }).apply(this, arguments);
if (r === null || r === undefined) return 'null';
if (Array.isArray(r)) return 'array';
return typeof r;`

// describeResult re-runs inv inside a wrapper that reports the JavaScript type
// of its result. If that fails the Go type of the decoded value is used.
func (b *Bridge) describeResult(ctx context.Context, inv Invocation, raw any) string {
	diag := inv
	diag.Source = fmt.Sprintf(describeWrapper, inv.Source)
	res, err := b.session.Dispatch(ctx, diag.command())
	if name, ok := res.(string); ok && err == nil && name != "" {
		return name
	}
	if err != nil {
		b.logger.Debug("Diagnostic re-run failed.", zap.Error(err))
	}
	return fmt.Sprintf("%T", raw)
}

// coerce converts raw to T by assertion, then integral float to integer
// narrowing, then a strict JSON round trip.
func coerce[T any](raw any, want reflect.Type) (T, bool) {
	if v, ok := raw.(T); ok {
		return v, true
	}

	var out T
	dst := reflect.ValueOf(&out).Elem()
	if f, ok := raw.(float64); ok {
		switch want.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if f == math.Trunc(f) && !dst.OverflowInt(int64(f)) && math.Abs(f) <= 1<<53 {
				dst.SetInt(int64(f))
				return out, true
			}
			return out, false
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f == math.Trunc(f) && f >= 0 && f <= 1<<53 && !dst.OverflowUint(uint64(f)) {
				dst.SetUint(uint64(f))
				return out, true
			}
			return out, false
		case reflect.Float32:
			if !dst.OverflowFloat(f) {
				dst.SetFloat(f)
				return out, true
			}
			return out, false
		}
	}

	data, err := strict.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := strict.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func abbreviate(src string) string {
	src = strings.Join(strings.Fields(src), " ")
	if len(src) > 80 {
		return src[:77] + "..."
	}
	return src
}
