package automation

import (
	"fmt"
	"strings"
)

// Strategy names the query language of a Locator.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Locator describes one way of finding an element.
type Locator struct {
	By    Strategy
	Value string
}

// CSS builds a CSS selector locator.
func CSS(selector string) Locator { return Locator{By: ByCSS, Value: selector} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{By: ByXPath, Value: expr} }

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

// With returns a copy of the locator with every "{key}" placeholder replaced.
func (l Locator) With(key, value string) Locator {
	l.Value = strings.ReplaceAll(l.Value, "{"+key+"}", value)
	return l
}

// ParseLocator reads the textual form used in configuration files.
// "css=" and "xpath=" prefixes are explicit; otherwise an expression starting
// with "/" or "(" is treated as XPath and anything else as CSS.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "xpath="):
		return XPath(strings.TrimPrefix(s, "xpath="))
	case strings.HasPrefix(s, "css="):
		return CSS(strings.TrimPrefix(s, "css="))
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "("):
		return XPath(s)
	default:
		return CSS(s)
	}
}

// ParseLocators parses a list of candidates, skipping blank entries.
func ParseLocators(values []string) []Locator {
	out := make([]Locator, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, ParseLocator(v))
	}
	return out
}

// WithAll applies Locator.With to every candidate.
func WithAll(candidates []Locator, key, value string) []Locator {
	out := make([]Locator, len(candidates))
	for i, c := range candidates {
		out[i] = c.With(key, value)
	}
	return out
}
