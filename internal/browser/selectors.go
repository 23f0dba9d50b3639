// internal/browser/selectors.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/settle/internal/locator"
)

// query is a locator translated into a chromedp selector.
type query struct {
	selector string
	xpath    bool
}

func (q query) by() chromedp.QueryOption {
	if q.xpath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

var cssEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func cssString(s string) string {
	return `"` + cssEscaper.Replace(s) + `"`
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, `'`):
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// translate maps every locator strategy onto CSS or XPath.
func translate(loc locator.Locator) (query, error) {
	if err := loc.Validate(); err != nil {
		return query{}, err
	}
	v := loc.Value
	switch loc.Strategy {
	case locator.StrategyCSS:
		return query{selector: v}, nil
	case locator.StrategyID:
		return query{selector: "[id=" + cssString(v) + "]"}, nil
	case locator.StrategyName:
		return query{selector: "[name=" + cssString(v) + "]"}, nil
	case locator.StrategyClassName:
		return query{selector: "[class~=" + cssString(v) + "]"}, nil
	case locator.StrategyTagName:
		return query{selector: v}, nil
	case locator.StrategyXPath:
		return query{selector: v, xpath: true}, nil
	case locator.StrategyLinkText:
		return query{selector: "//a[normalize-space(.)=" + xpathLiteral(strings.TrimSpace(v)) + "]", xpath: true}, nil
	case locator.StrategyPartialLinkText:
		return query{selector: "//a[contains(normalize-space(.), " + xpathLiteral(v) + ")]", xpath: true}, nil
	}
	return query{}, fmt.Errorf("unsupported strategy %q", loc.Strategy)
}

// frameSelector matches a child frame by name or id.
func frameSelector(nameOrID string) string {
	q := cssString(nameOrID)
	return fmt.Sprintf(`iframe[name=%[1]s], iframe[id=%[1]s], frame[name=%[1]s], frame[id=%[1]s]`, q)
}
