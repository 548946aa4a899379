package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/readmodel"
	"github.com/ashita-ai/vitals/internal/service/ingest"
)

// Pinger reports whether the sample store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	ingest              *ingest.Service
	buffer              *ingest.Buffer
	query               *readmodel.Query
	store               Pinger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Buffer, Store and OpenAPISpec are optional.
type HandlersDeps struct {
	Ingest              *ingest.Service
	Buffer              *ingest.Buffer
	Query               *readmodel.Query
	Store               Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 64 * 1024
	}
	return &Handlers{
		ingest:              d.Ingest,
		buffer:              d.Buffer,
		query:               d.Query,
		store:               d.Store,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleIngest handles POST /api/vitals. navigator.sendBeacon posts string
// bodies as text/plain, so both text/plain and application/json carry the
// same JSON payload.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "application/json" && mediaType != "text/plain") {
			writeError(w, r, http.StatusUnsupportedMediaType, model.ErrCodeInvalidInput,
				"content type must be application/json or text/plain")
			return
		}
	}

	var req model.IngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.ingest.Ingest(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusAccepted, resp)
	case errors.Is(err, ingest.ErrBatchTooLarge):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, ingest.ErrBufferFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "ingestion is backlogged, retry later")
	default:
		h.logger.Error("ingest failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to ingest samples")
	}
}

// HandleSummary handles GET /api/vitals/summary.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	device, err := parseDevice(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	resp, err := h.query.AggregatedVitals(device)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandlePages handles GET /api/vitals/pages.
func (h *Handlers) HandlePages(w http.ResponseWriter, r *http.Request) {
	pq, err := parsePageQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	list, window, err := h.query.ListPagePerformance(pq)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeList(w, r, list, window)
}

// HandleScore handles GET /api/vitals/score. Without pagePath the site-wide
// breakdown is returned.
func (h *Handlers) HandleScore(w http.ResponseWriter, r *http.Request) {
	device, err := parseDevice(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	pagePath := r.URL.Query().Get("pagePath")
	breakdown, window, err := h.query.ScoreBreakdown(pagePath, device)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ScoreResponse{Score: breakdown, Window: window})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "connected"
	httpStatus := http.StatusOK

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			storeStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	// Buffer health: >50% capacity = high, >75% capacity = critical.
	bufDepth := 0
	bufStatus := "ok"
	if h.buffer != nil {
		bufDepth = h.buffer.Len()
		capacity := h.buffer.Capacity()
		if bufDepth > capacity*3/4 {
			bufStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		} else if bufDepth > capacity/2 {
			bufStatus = "high"
		}
	}

	resp := model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Store:        storeStatus,
		BufferDepth:  bufDepth,
		BufferStatus: bufStatus,
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	}
	if resp.Store == "connected" && h.query != nil {
		if snap := h.query.Current(); snap != nil {
			end := snap.WindowEnd
			resp.WindowEnd = &end
		}
	}
	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func (h *Handlers) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, readmodel.ErrNoSnapshot):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no aggregated window is available yet")
	case errors.Is(err, readmodel.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no data for the requested page")
	default:
		h.logger.Error("query failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "query failed")
	}
}

// decodeJSON decodes a size-limited JSON request body into target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
}

// parseDevice reads ?device=, defaulting to desktop.
func parseDevice(r *http.Request) (model.DeviceClass, error) {
	v := r.URL.Query().Get("device")
	if v == "" {
		return model.DeviceDesktop, nil
	}
	return model.ParseDeviceClass(v)
}

func parsePageQuery(r *http.Request) (model.PageQuery, error) {
	q := r.URL.Query()
	var pq model.PageQuery
	var err error

	if pq.Device, err = parseDevice(r); err != nil {
		return pq, err
	}
	if pq.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return pq, err
	}
	if pq.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return pq, err
	}
	if pq.Offset < 0 {
		return pq, errors.New("offset must be non-negative")
	}
	if pq.SortBy, err = model.ParseSortField(q.Get("sortBy")); err != nil {
		return pq, err
	}
	if pq.SortOrder, err = model.ParseSortOrder(q.Get("sortOrder")); err != nil {
		return pq, err
	}
	pq.Search = q.Get("search")
	return pq.Normalize(), nil
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
