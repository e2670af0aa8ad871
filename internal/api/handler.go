package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/abi-indexer/internal/engine"
	"github.com/devblac/abi-indexer/internal/sink"
	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/storage"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds run requests; verified ABIs of large contracts run to a few hundred KiB.
const maxBodyBytes = 8 << 20

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "5"

// Ingester is what the handlers need from the run engine.
type Ingester interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
	Read(ctx context.Context, eventName string) ([]sink.Row, error)
	Active() []engine.ActiveRun
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	ing            Ingester
	logger         *slog.Logger
	requestTimeout time.Duration
}

// NewHandler creates a new Handler instance.
func NewHandler(ing Ingester, logger *slog.Logger, requestTimeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ing: ing, logger: logger, requestTimeout: requestTimeout}
}

// NewRouter registers the API routes. health and metrics are optional.
func (h *Handler) NewRouter(health, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/runs", h.HandleRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/active", h.HandleActive).Methods(http.MethodGet)
	r.HandleFunc("/events/{name}", h.HandleEvents).Methods(http.MethodGet)

	// legacy paths
	r.HandleFunc("/update_contract", h.HandleRun).Methods(http.MethodPost)
	r.HandleFunc("/get_data", h.HandleGetData).Methods(http.MethodGet)

	if health != nil {
		r.Handle("/healthz", health).Methods(http.MethodGet)
	}
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

// HandleRun decodes a run request and executes it synchronously.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req engine.RunRequest
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("bad json in run request", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("bad request body: %v", err)})
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	res, err := h.ing.Run(ctx, req)
	if err != nil {
		h.writeError(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleEvents returns every stored row of the event in the path.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.readEvent(w, r, mux.Vars(r)["name"])
}

// HandleGetData is the query-string form of HandleEvents.
func (h *Handler) HandleGetData(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("event_name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "event_name is required"})
		return
	}
	h.readEvent(w, r, name)
}

// HandleActive lists in-flight runs.
func (h *Handler) HandleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ing.Active())
}

// readEvent writes the rows of name, narrowed by any ?where= expressions.
func (h *Handler) readEvent(w http.ResponseWriter, r *http.Request, name string) {
	preds, err := engine.CompilePredicates(r.URL.Query()["where"])
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	rows, err := h.ing.Read(r.Context(), name)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	rows = engine.FilterRows(rows, preds)
	if rows == nil {
		rows = []sink.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type errorBody struct {
	Error  string            `json:"error"`
	Result *engine.RunResult `json:"result,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error, res *engine.RunResult) {
	code := StatusCode(err)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", code, "error", err)
	} else {
		h.logger.Debug("request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Result: res})
}

// StatusCode maps pipeline errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, evm.ErrConfig), errors.Is(err, evm.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, evm.ErrMalformedLog):
		return http.StatusUnprocessableEntity
	case errors.Is(err, evm.ErrNodeUnavailable), errors.Is(err, storage.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
