// internal/locator/locator.go
// Package locator describes how to find a node in the remote tree. A Locator is
// inert: it carries no behavior beyond construction, validation and rendering,
// and it is safe to compare, copy and use as a map key.
package locator

import (
	"fmt"
	"strings"
)

// Strategy names the lookup mechanism the remote session should use.
type Strategy string

const (
	StrategyID              Strategy = "id"
	StrategyCSS             Strategy = "css"
	StrategyXPath           Strategy = "xpath"
	StrategyName            Strategy = "name"
	StrategyClassName       Strategy = "class"
	StrategyTagName         Strategy = "tag"
	StrategyLinkText        Strategy = "link"
	StrategyPartialLinkText Strategy = "partial-link"
)

var knownStrategies = map[Strategy]struct{}{
	StrategyID:              {},
	StrategyCSS:             {},
	StrategyXPath:           {},
	StrategyName:            {},
	StrategyClassName:       {},
	StrategyTagName:         {},
	StrategyLinkText:        {},
	StrategyPartialLinkText: {},
}

// Locator is an immutable {strategy, value} pair.
type Locator struct {
	Strategy Strategy
	Value    string
}

func ByID(id string) Locator { return Locator{Strategy: StrategyID, Value: id} }
func ByCSS(selector string) Locator { return Locator{Strategy: StrategyCSS, Value: selector} }
func ByXPath(expr string) Locator { return Locator{Strategy: StrategyXPath, Value: expr} }
func ByName(name string) Locator { return Locator{Strategy: StrategyName, Value: name} }
func ByClassName(class string) Locator { return Locator{Strategy: StrategyClassName, Value: class} }
func ByTagName(tag string) Locator { return Locator{Strategy: StrategyTagName, Value: tag} }
func ByLinkText(text string) Locator { return Locator{Strategy: StrategyLinkText, Value: text} }
func ByPartialLinkText(s string) Locator { return Locator{Strategy: StrategyPartialLinkText, Value: s} }

// Parse reads the "strategy=value" form used by the CLI and config files.
// A string without a recognised strategy prefix is treated as a CSS selector,
// so "div.card > a[href='x=y']" parses as css rather than as a strategy named
// "div.card > a[href='x".
func Parse(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("locator: empty expression")
	}
	if prefix, rest, ok := strings.Cut(s, "="); ok {
		strategy := Strategy(strings.ToLower(strings.TrimSpace(prefix)))
		if _, known := knownStrategies[strategy]; known {
			loc := Locator{Strategy: strategy, Value: rest}
			return loc, loc.Validate()
		}
	}
	return ByCSS(s), nil
}

// MustParse is Parse for package-level locator tables; it panics on error.
func MustParse(s string) Locator {
	loc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return loc
}

// Validate reports whether the locator can be sent to a remote session.
func (l Locator) Validate() error {
	if _, ok := knownStrategies[l.Strategy]; !ok {
		return fmt.Errorf("locator: unknown strategy %q", l.Strategy)
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("locator: empty value for strategy %q", l.Strategy)
	}
	return nil
}

// IsZero reports whether l is the zero Locator.
func (l Locator) IsZero() bool {
	return l == Locator{}
}

// String renders the locator as "strategy=value".
func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Value
}
