// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/settle/internal/remote"
)

// staleMarkers are fragments of CDP error messages meaning the node we held
// is gone from the document.
var staleMarkers = []string{
	"no node with given id",
	"could not find node with given id",
	"node with given id does not belong to the document",
	"cannot find context with specified id",
	"node is detached from document",
	"object reference chain is too long",
}

// invalidSelectorMarkers are fragments of CDP errors for a selector the
// browser could not parse.
var invalidSelectorMarkers = []string{
	"dom error while querying",
	"is not a valid selector",
	"is not a valid xpath expression",
}

// mapError translates chromedp and CDP failures into remote errors. Context
// errors pass through untouched so callers see cancellation for what it is.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}

	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return &remote.Error{Kind: remote.KindScript, Op: op, Message: exceptionMessage(exc), Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return remote.WrapError(remote.KindStale, op, err)
		}
	}
	for _, m := range invalidSelectorMarkers {
		if strings.Contains(msg, m) {
			return remote.WrapError(remote.KindInvalidLocator, op, err)
		}
	}
	return remote.WrapError(remote.KindUnknown, op, err)
}

func exceptionMessage(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		// The description carries the stack; the first line is the message.
		first, _, _ := strings.Cut(exc.Exception.Description, "\n")
		return first
	}
	return exc.Text
}
