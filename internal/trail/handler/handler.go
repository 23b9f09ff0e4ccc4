// Package handler is the thin HTTP layer over the trail services. Handlers
// decode, delegate, and translate errors; no audit semantics live here.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custos/internal/trail/models"
	"custos/internal/trail/ports"
	"custos/internal/trail/report"
	"custos/internal/trail/service"
	"custos/pkg/httputil"
	"custos/pkg/requestcontext"
)

// Recorder is the ingestion service surface the handler needs.
type Recorder interface {
	Record(ctx context.Context, req service.Request) (service.RecordResult, error)
	List(ctx context.Context, filter models.Filter) ([]models.Entry, int64, error)
}

// Verifier runs integrity checks.
type Verifier interface {
	VerifyRange(ctx context.Context, fromSeq, toSeq int64) (models.IntegrityCheckpoint, error)
	VerifyIncremental(ctx context.Context) (models.IntegrityCheckpoint, error)
}

// Archiver moves aged entries to cold storage.
type Archiver interface {
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (models.ArchiveBundle, error)
}

// Reporter generates compliance reports.
type Reporter interface {
	Generate(ctx context.Context, c report.Criteria) (report.Report, error)
}

// Handler wires the audit endpoints to the trail services.
type Handler struct {
	recorder    Recorder
	verifier    Verifier
	archiver    Archiver
	reporter    Reporter
	checkpoints ports.CheckpointStore
	alerts      ports.AlertStore
	bundles     ports.ArchiveIndex
	logger      *slog.Logger
}

// New constructs the handler.
func New(recorder Recorder, verifier Verifier, archiver Archiver, reporter Reporter,
	checkpoints ports.CheckpointStore, alerts ports.AlertStore, bundles ports.ArchiveIndex,
	logger *slog.Logger) *Handler {

	return &Handler{
		recorder:    recorder,
		verifier:    verifier,
		archiver:    archiver,
		reporter:    reporter,
		checkpoints: checkpoints,
		alerts:      alerts,
		bundles:     bundles,
		logger:      logger,
	}
}

// Register mounts the audit API under /v1/audit.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/audit", func(r chi.Router) {
		r.Post("/entries", h.HandleRecord)
		r.Get("/entries", h.HandleListEntries)
		r.Post("/reports", h.HandleGenerateReport)
		r.Post("/integrity/check", h.HandleCheckIntegrity)
		r.Get("/integrity/checkpoints", h.HandleListCheckpoints)
		r.Post("/archives", h.HandleArchive)
		r.Get("/archives", h.HandleListArchives)
		r.Get("/alerts", h.HandleListAlerts)
		r.Post("/alerts/{id}/ack", h.HandleAcknowledgeAlert)
	})
}

// HandleRecord handles POST /v1/audit/entries.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[recordRequest](w, r, h.logger)
	if !ok {
		return
	}

	svcReq := service.Request{
		ActorID:        req.ActorID,
		ActorRole:      req.ActorRole,
		SessionID:      req.SessionID,
		Action:         req.Action,
		Category:       models.Category(req.Category),
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Before:         req.Before,
		After:          req.After,
		Description:    req.Description,
		ComplianceTags: req.ComplianceTags,
		BatchID:        req.BatchID,
	}
	// The authenticated caller is the actor unless the request names one,
	// which platform services do when recording on a user's behalf.
	if svcReq.ActorID == "" {
		svcReq.ActorID = requestcontext.ActorID(ctx)
	}
	if svcReq.ActorRole == "" {
		svcReq.ActorRole = requestcontext.ActorRole(ctx)
	}
	if svcReq.SessionID == "" {
		svcReq.SessionID = requestcontext.SessionID(ctx)
	}

	res, err := h.recorder.Record(ctx, svcReq)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleListEntries handles GET /v1/audit/entries.
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, next, err := h.recorder.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := listEntriesResponse{
		Entries:    make([]entryJSON, 0, len(entries)),
		NextCursor: next,
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, toEntryJSON(e))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleGenerateReport handles POST /v1/audit/reports.
func (h *Handler) HandleGenerateReport(w http.ResponseWriter, r *http.Request) {
	criteria, ok := httputil.Decode[report.Criteria](w, r, h.logger)
	if !ok {
		return
	}

	rep, err := h.reporter.Generate(r.Context(), criteria)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}

// HandleCheckIntegrity handles POST /v1/audit/integrity/check.
func (h *Handler) HandleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[integrityCheckRequest](w, r, h.logger)
	if !ok {
		return
	}

	var (
		cp  models.IntegrityCheckpoint
		err error
	)
	if req.Incremental {
		cp, err = h.verifier.VerifyIncremental(r.Context())
	} else {
		cp, err = h.verifier.VerifyRange(r.Context(), req.FromSeq, req.ToSeq)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCheckpointJSON(cp))
}

// HandleListCheckpoints handles GET /v1/audit/integrity/checkpoints.
func (h *Handler) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)

	cps, err := h.checkpoints.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]checkpointJSON, 0, len(cps))
	for _, cp := range cps {
		out = append(out, toCheckpointJSON(cp))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"checkpoints": out})
}

// HandleArchive handles POST /v1/audit/archives.
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[archiveRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Cutoff.IsZero() {
		httputil.WriteError(w, errCutoffRequired)
		return
	}

	bundle, err := h.archiver.ArchiveOlderThan(r.Context(), req.Cutoff)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toBundleJSON(bundle))
}

// HandleListArchives handles GET /v1/audit/archives.
func (h *Handler) HandleListArchives(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.bundles.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]bundleJSON, 0, len(bundles))
	for _, b := range bundles {
		out = append(out, toBundleJSON(b))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"bundles": out})
}

// HandleListAlerts handles GET /v1/audit/alerts.
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	onlyUnack := r.URL.Query().Get("unacknowledged") == "true"
	limit := intQuery(r, "limit", 50)

	alerts, err := h.alerts.List(r.Context(), onlyUnack, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]alertJSON, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertJSON(a))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

// HandleAcknowledgeAlert handles POST /v1/audit/alerts/{id}/ack.
func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, errBadAlertID)
		return
	}

	by := requestcontext.ActorID(ctx)
	if by == "" {
		by = "unknown"
	}
	if err := h.alerts.Acknowledge(ctx, id, by); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func filterFromQuery(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		Category:     models.Category(q.Get("category")),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		RiskLevel:    models.RiskLevel(q.Get("risk_level")),
		BatchID:      q.Get("batch_id"),
		Limit:        intQuery(r, "limit", 100),
	}
	if v := q.Get("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return models.Filter{}, errBadCursor
		}
		f.Cursor = cursor
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.Filter{}, errBadTimeBound
		}
		f.From = ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.Filter{}, errBadTimeBound
		}
		f.To = ts
	}
	return f, nil
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
