package domain

import "time"

// Sanitizer strips unsafe markup and script content from untrusted text. It is
// injected into every component that touches platform-supplied strings, so
// tests can substitute a no-op or recording fake.
type Sanitizer interface {
	Sanitize(s string) string
}

// RequestType is the platform's request discriminator.
type RequestType string

const (
	RequestTypeIntent         RequestType = "IntentRequest"
	RequestTypeLaunch         RequestType = "LaunchRequest"
	RequestTypeSessionStarted RequestType = "SessionStartedRequest"
	RequestTypeSessionEnded   RequestType = "SessionEndedRequest"
)

// TypedRequest is the closed set of authenticated request variants. A value of
// this type exists only after certificate verification and application
// matching have both succeeded.
type TypedRequest interface {
	// RequestType returns the variant discriminator.
	RequestType() RequestType

	// Base returns the fields common to all variants.
	Base() *Request
}

// Request holds the fields common to every request variant. Raw retains the
// original decoded body so variant-specific accessors can look up fields
// lazily without re-decoding.
type Request struct {
	RequestID     string
	Timestamp     time.Time
	Locale        string
	SessionID     string
	ApplicationID string
	Raw           Document
}

// LaunchRequest is sent when the user invokes the application without an
// intent.
type LaunchRequest struct {
	Request
}

func (r *LaunchRequest) RequestType() RequestType { return RequestTypeLaunch }
func (r *LaunchRequest) Base() *Request           { return &r.Request }

// SessionStartedRequest marks the beginning of a session.
type SessionStartedRequest struct {
	Request
}

func (r *SessionStartedRequest) RequestType() RequestType { return RequestTypeSessionStarted }
func (r *SessionStartedRequest) Base() *Request           { return &r.Request }

// SessionEndedRequest marks the end of a session.
type SessionEndedRequest struct {
	Request

	// Reason is the platform's termination reason, sanitized.
	Reason string
}

func (r *SessionEndedRequest) RequestType() RequestType { return RequestTypeSessionEnded }
func (r *SessionEndedRequest) Base() *Request           { return &r.Request }

// IntentRequest carries a named intent and its slot values. IntentName is
// always non-blank and Slots is always non-nil; both are populated at
// construction time.
type IntentRequest struct {
	Request

	IntentName string
	slots      map[string]string
}

// NewIntentRequest constructs an IntentRequest with a non-nil slots map.
func NewIntentRequest(base Request, intentName string, slots map[string]string) *IntentRequest {
	if slots == nil {
		slots = make(map[string]string)
	}
	return &IntentRequest{Request: base, IntentName: intentName, slots: slots}
}

func (r *IntentRequest) RequestType() RequestType { return RequestTypeIntent }
func (r *IntentRequest) Base() *Request           { return &r.Request }

// Slot returns the sanitized value for name, or def when no slot with that
// exact name carries a value. Lookup is exact-key; no fuzzy or
// case-insensitive matching.
func (r *IntentRequest) Slot(name, def string) string {
	if v, ok := r.slots[name]; ok {
		return v
	}
	return def
}

// Slots returns a copy of the slot mapping.
func (r *IntentRequest) Slots() map[string]string {
	out := make(map[string]string, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}

// SetSlot overrides a slot value. Intended for tests and for application-level
// overrides; the parser never mutates slots after construction.
func (r *IntentRequest) SetSlot(name, value string) {
	r.slots[name] = value
}
