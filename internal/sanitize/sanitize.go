// Package sanitize provides the markup-stripping Sanitizer used for all
// platform-supplied text.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Strict strips every HTML element and attribute from its input. Script and
// style element contents are dropped entirely.
type Strict struct {
	policy *bluemonday.Policy
}

// NewStrict creates a strict sanitizer.
func NewStrict() *Strict {
	return &Strict{policy: bluemonday.StrictPolicy()}
}

// Sanitize returns s with all markup removed and surrounding whitespace
// trimmed.
func (p *Strict) Sanitize(s string) string {
	return strings.TrimSpace(p.policy.Sanitize(s))
}

// Noop passes text through unchanged. Useful when the application performs its
// own escaping at render time.
type Noop struct{}

// Sanitize returns s unchanged.
func (Noop) Sanitize(s string) string { return s }
