package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/voicegate/internal/audit"
	"github.com/tjfontaine/voicegate/internal/domain"
	"github.com/tjfontaine/voicegate/internal/pipeline"
)

// maxBodyBytes bounds the inbound request body read.
const maxBodyBytes = 1 << 20

// Platform signature headers.
const (
	headerSignature    = "Signature"
	headerCertChainURL = "SignatureCertChainUrl"
)

// Processor authenticates and parses one raw request envelope.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (domain.TypedRequest, error)
}

// Handler produces the application response for an authenticated request.
type Handler interface {
	Handle(ctx context.Context, req domain.TypedRequest) (*domain.Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req domain.TypedRequest) (*domain.Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req domain.TypedRequest) (*domain.Response, error) {
	return f(ctx, req)
}

// WebhookHandler feeds inbound platform requests through the pipeline,
// records the outcome, and dispatches accepted requests to the application
// handler.
func WebhookHandler(processor Processor, handler Handler, sink audit.Sink, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		in := pipeline.Input{
			Body:         body,
			Signature:    r.Header.Get(headerSignature),
			CertChainURL: r.Header.Get(headerCertChainURL),
		}

		req, err := processor.Process(r.Context(), in)

		rec := audit.Record{
			ID:         uuid.New().String(),
			ReceivedAt: start,
			Outcome:    audit.OutcomeAccepted,
			Duration:   time.Since(start),
		}
		if req != nil {
			rec.RequestType = string(req.RequestType())
			rec.RequestID = req.Base().RequestID
			rec.ApplicationID = req.Base().ApplicationID
		}

		if err != nil {
			AddError(r.Context(), err)

			// Anything that is not a canonical pipeline error is an internal
			// failure, not something the caller sent wrong.
			var perr *domain.PipelineError
			if !errors.As(err, &perr) {
				rec.Outcome = "internal_error"
				recordAudit(r.Context(), sink, rec, logger)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			rec.Outcome = string(perr.Code)
			recordAudit(r.Context(), sink, rec, logger)
			writeError(w, perr)
			return
		}

		recordAudit(r.Context(), sink, rec, logger)
		AddLogField(r.Context(), "request_type", rec.RequestType)

		resp, err := handler.Handle(r.Context(), req)
		if err != nil {
			AddError(r.Context(), err)
			http.Error(w, "handler error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode response", slog.String("error", err.Error()))
		}
	}
}

// writeError serializes the canonical error. Detail is deliberately excluded;
// untrusted callers only see the kind.
func writeError(w http.ResponseWriter, perr *domain.PipelineError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.HTTPStatusCode())
	json.NewEncoder(w).Encode(map[string]any{"error": perr})
}

func recordAudit(ctx context.Context, sink audit.Sink, rec audit.Record, logger *slog.Logger) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, rec); err != nil {
		logger.Error("failed to record audit entry", slog.String("error", err.Error()))
	}
}
