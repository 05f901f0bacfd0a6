// Package pipeline composes certificate verification, application matching,
// and typed parsing into the single entry point the transport layer calls.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/voicegate/internal/domain"
	"github.com/tjfontaine/voicegate/internal/parser"
	"github.com/tjfontaine/voicegate/internal/verifier"
)

// Input is the raw envelope of one inbound request before any trust is
// established. Body must be the exact received bytes; signature verification
// operates on them directly.
type Input struct {
	Body         []byte
	Signature    string
	CertChainURL string
}

// Pipeline authenticates and parses platform requests. A typed request is
// returned only after every authentication check has passed.
type Pipeline struct {
	verifier      *verifier.Verifier
	parser        *parser.Parser
	expectedAppID string
	now           func() time.Time
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(v *verifier.Verifier, p *parser.Parser, expectedAppID string, logger *slog.Logger, opts ...Option) *Pipeline {
	pl := &Pipeline{
		verifier:      v,
		parser:        p,
		expectedAppID: expectedAppID,
		now:           time.Now,
		logger:        logger,
		tracer:        otel.Tracer("voicegate/pipeline"),
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Process runs verify, match, and parse in order, failing fast on the first
// defect. On failure it never proceeds to later stages and never downgrades
// an authentication failure.
func (pl *Pipeline) Process(ctx context.Context, in Input) (domain.TypedRequest, error) {
	ctx, span := pl.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	req, err := pl.process(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var perr *domain.PipelineError
		if errors.As(err, &perr) {
			span.SetAttributes(attribute.String("pipeline.error_code", string(perr.Code)))
			pl.logger.Warn("request rejected",
				slog.String("error_type", string(perr.Type)),
				slog.String("error_code", string(perr.Code)),
				slog.String("detail", perr.Detail),
			)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("request.type", string(req.RequestType())))
	pl.logger.Debug("request accepted",
		slog.String("request_type", string(req.RequestType())),
		slog.String("request_id", req.Base().RequestID),
	)
	return req, nil
}

func (pl *Pipeline) process(ctx context.Context, in Input) (domain.TypedRequest, error) {
	var decoded map[string]any
	if err := json.Unmarshal(in.Body, &decoded); err != nil {
		return nil, domain.ErrMalformedJSON("request body is not a JSON object").WithDetail(err.Error())
	}
	doc := domain.Document(decoded)

	// Claimed fields are untrusted until verification succeeds.
	claimed := claimedTimestamp(doc)
	appID := claimedApplicationID(doc)

	if _, err := pl.verifier.Verify(ctx, in.Body, in.Signature, in.CertChainURL, claimed, pl.now()); err != nil {
		return nil, err
	}

	if err := verifier.MatchApplication(appID, pl.expectedAppID); err != nil {
		return nil, err
	}

	return pl.parser.Parse(doc, appID)
}

// claimedTimestamp extracts request.timestamp before trust is established.
// Returns the zero time when absent or unparseable; the verifier rejects a
// zero claimed timestamp.
func claimedTimestamp(doc domain.Document) time.Time {
	req, err := doc.Map("request")
	if err != nil {
		return time.Time{}
	}
	raw, err := req.String("timestamp")
	if err != nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// claimedApplicationID extracts session.application.applicationId. Returns ""
// when absent, which can never match a configured application id.
func claimedApplicationID(doc domain.Document) string {
	app, err := doc.Path("session", "application")
	if err != nil {
		return ""
	}
	return app.StringOr("applicationId", "")
}
