// Package parser turns an authenticated, decoded request body into a typed
// request variant, sanitizing every string field on the way in.
package parser

import (
	"time"

	"github.com/tjfontaine/voicegate/internal/domain"
)

// builder constructs one request variant from its decoded `request` object.
type builder func(base domain.Request, req domain.Document, s domain.Sanitizer) (domain.TypedRequest, error)

// builders is the closed registry of request variants, keyed by the
// platform's `request.type` discriminator.
var builders = map[domain.RequestType]builder{
	domain.RequestTypeIntent:         buildIntentRequest,
	domain.RequestTypeLaunch:         buildLaunchRequest,
	domain.RequestTypeSessionStarted: buildSessionStartedRequest,
	domain.RequestTypeSessionEnded:   buildSessionEndedRequest,
}

// Parser builds typed requests from decoded bodies.
type Parser struct {
	sanitizer domain.Sanitizer
}

// New creates a Parser using the given sanitizer for all untrusted text.
func New(sanitizer domain.Sanitizer) *Parser {
	return &Parser{sanitizer: sanitizer}
}

// Parse selects the request variant from the discriminator and constructs it.
// Construction fails eagerly on a missing variant-mandatory field; a caller
// never observes a partially valid request.
func (p *Parser) Parse(doc domain.Document, applicationID string) (domain.TypedRequest, error) {
	req, err := doc.Map("request")
	if err != nil {
		return nil, err
	}

	reqType, err := req.String("type")
	if err != nil {
		return nil, domain.ErrMissingRequiredField("request.type")
	}

	build, ok := builders[domain.RequestType(reqType)]
	if !ok {
		return nil, domain.ErrUnsupportedRequestType(reqType)
	}

	base := domain.Request{
		RequestID:     p.sanitizer.Sanitize(req.StringOr("requestId", "")),
		Locale:        p.sanitizer.Sanitize(req.StringOr("locale", "")),
		ApplicationID: applicationID,
		Raw:           doc,
	}
	if ts, err := req.String("timestamp"); err == nil {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			base.Timestamp = parsed
		}
	}
	if session, err := doc.Map("session"); err == nil {
		base.SessionID = p.sanitizer.Sanitize(session.StringOr("sessionId", ""))
	}

	return build(base, req, p.sanitizer)
}

func buildIntentRequest(base domain.Request, req domain.Document, s domain.Sanitizer) (domain.TypedRequest, error) {
	name, slots, err := extractIntent(req, s)
	if err != nil {
		return nil, err
	}
	return domain.NewIntentRequest(base, name, slots), nil
}

func buildLaunchRequest(base domain.Request, _ domain.Document, _ domain.Sanitizer) (domain.TypedRequest, error) {
	return &domain.LaunchRequest{Request: base}, nil
}

func buildSessionStartedRequest(base domain.Request, _ domain.Document, _ domain.Sanitizer) (domain.TypedRequest, error) {
	return &domain.SessionStartedRequest{Request: base}, nil
}

func buildSessionEndedRequest(base domain.Request, req domain.Document, s domain.Sanitizer) (domain.TypedRequest, error) {
	return &domain.SessionEndedRequest{
		Request: base,
		Reason:  s.Sanitize(req.StringOr("reason", "")),
	}, nil
}
