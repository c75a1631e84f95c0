package handler

import (
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/observability"
	"github.com/boddenberg/p2p-queue-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Queue items
// ============================================================

func submitHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/items")
		defer span.End()

		var req domain.SubmissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("customer.id", req.CustomerID))

		result, err := svc.Submit(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

func listPendingHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/queue/items")
		defer span.End()

		q := r.URL.Query()
		filter := domain.ItemFilter{
			Type:        domain.ItemType(q.Get("type")),
			CustomerID:  q.Get("customerId"),
			PaymentType: domain.PaymentType(q.Get("paymentType")),
		}

		items, err := svc.ListPending(ctx, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"total": len(items),
		})
	}
}

func getItemHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/queue/items/{itemId}")
		defer span.End()

		item, err := svc.Get(ctx, chi.URLParam(r, "itemId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func cancelItemHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/items/{itemId}/cancel")
		defer span.End()

		item, err := svc.Cancel(ctx, chi.URLParam(r, "itemId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func approveItemHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/items/{itemId}/approve")
		defer span.End()

		item, err := svc.Approve(ctx, chi.URLParam(r, "itemId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// ============================================================
// Matching
// ============================================================

func runMatchingHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/match")
		defer span.End()

		result, err := svc.RunMatchingPass(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("matches", len(result.Matches)))

		writeJSON(w, http.StatusOK, result)
	}
}

func listMatchesHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/queue/matches")
		defer span.End()

		matches, err := svc.ListMatches(ctx, domain.MatchStatus(r.URL.Query().Get("status")))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"matches": matches,
			"total":   len(matches),
		})
	}
}

func getMatchHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/queue/matches/{matchId}")
		defer span.End()

		m, err := svc.GetMatch(ctx, chi.URLParam(r, "matchId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func confirmMatchHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/matches/{matchId}/confirm")
		defer span.End()

		m, err := svc.ConfirmMatch(ctx, chi.URLParam(r, "matchId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// ============================================================
// Maintenance & reporting
// ============================================================

// maxCleanupAgeMs is the largest age that still fits in a time.Duration.
const maxCleanupAgeMs = math.MaxInt64 / int64(time.Millisecond)

type cleanupRequest struct {
	MaxAgeMs *int64 `json:"maxAgeMs"`
}

// cleanupHandler expires stale items. An empty body uses defaultMaxAge.
func cleanupHandler(svc *service.QueueService, defaultMaxAge time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/queue/cleanup")
		defer span.End()

		var req cleanupRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		maxAge := defaultMaxAge
		if req.MaxAgeMs != nil {
			if *req.MaxAgeMs > maxCleanupAgeMs {
				handleServiceError(w, &domain.ErrValidation{Field: "maxAgeMs", Message: "too large"}, logger)
				return
			}
			maxAge = time.Duration(*req.MaxAgeMs) * time.Millisecond
		}

		expired, err := svc.Cleanup(ctx, maxAge)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
	}
}

func statsHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/queue/stats")
		defer span.End()

		stats, err := svc.Stats(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func queueMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

// ============================================================
// Risk
// ============================================================

func scoreHandler(svc *service.QueueService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/risk/score")
		defer span.End()

		var req domain.SubmissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := svc.Score(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
