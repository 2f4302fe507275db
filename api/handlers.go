/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the transfer contract, queue and ledger reads, business
  documents and reconciliation over REST. Handles HTTP request/response,
  JSON serialization, and delegates to the stock engine.

ENDPOINTS:
  Transfers:
    POST   /api/transfers/validate         Dry-run a transfer
    POST   /api/transfers                  Create transfers (ledger rows)
    POST   /api/transfers/cancel/validate  Dry-run a cancellation
    POST   /api/transfers/cancel           Cancel transfers

  Queues and ledger:
    GET    /api/queues                     All costing queues
    GET    /api/queues/{item}/{location}   One costing queue
    GET    /api/ledger                     Ledger rows (filters as query params)
    GET    /api/ledger/quantity            Quantity on a date, replayed from rows

  Documents:
    GET    /api/documents                  List documents
    POST   /api/documents                  Create draft
    GET    /api/documents/{kind}/{name}    Get document
    POST   /api/documents/{kind}/{name}/submit
    POST   /api/documents/{kind}/{name}/cancel

  Reconciliation:
    GET    /api/reconciliation             Run a check now
    GET    /api/reconciliation/last        Last scheduled result

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Document not found
  - 409: Concurrent modification, lock timeout, invalid status transition,
         transfers already created / not found
  - 422: Insufficient stock (with shortage details)
  - 500: Persistence failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/costing"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/internal/logging"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
)

const moduleName = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// resetter is implemented by stores that can be wiped for demo scenarios.
type resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Repo       stock.Repository
	Engine     *stock.Engine
	Ledger     *stock.Ledger
	Reconciler *stock.Reconciler
	Documents  *document.Registry
	Scheduler  *ReconciliationScheduler
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine, ledger and reconciler around repo.
func NewHandler(repo stock.Repository, engine *stock.Engine, logger logrus.FieldLogger) *Handler {
	return &Handler{
		Repo:       repo,
		Engine:     engine,
		Ledger:     stock.NewLedger(repo),
		Reconciler: &stock.Reconciler{Repo: repo},
		Documents:  document.NewRegistry(),
		Logger:     logger,
		validate:   validator.New(),
	}
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// ValidateTransfers dry-runs a transfer.
// POST /api/transfers/validate
func (h *Handler) ValidateTransfers(w http.ResponseWriter, r *http.Request) {
	ref, lines, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := h.Engine.ValidateTransfers(r.Context(), ref, lines); err != nil {
		h.fail(w, "ValidateTransfers", "Transfer is not valid", ref, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// CreateTransfers applies a transfer and returns the ledger rows written.
// POST /api/transfers
func (h *Handler) CreateTransfers(w http.ResponseWriter, r *http.Request) {
	ref, lines, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	records, err := h.Engine.CreateTransfers(r.Context(), ref, lines)
	if err != nil {
		h.fail(w, "CreateTransfers", "Failed to create transfers", ref, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerDTOs(records))
}

// ValidateCancel dry-runs a cancellation.
// POST /api/transfers/cancel/validate
func (h *Handler) ValidateCancel(w http.ResponseWriter, r *http.Request) {
	ref, lines, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := h.Engine.ValidateCancel(r.Context(), ref, lines); err != nil {
		h.fail(w, "ValidateCancel", "Cancellation is not valid", ref, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// CancelTransfers reverses a transfer and deletes its ledger rows.
// POST /api/transfers/cancel
func (h *Handler) CancelTransfers(w http.ResponseWriter, r *http.Request) {
	ref, lines, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	if err := h.Engine.CancelTransfers(r.Context(), ref, lines); err != nil {
		h.fail(w, "CancelTransfers", "Failed to cancel transfers", ref, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "reference": ref.String()})
}

func (h *Handler) decodeTransfer(w http.ResponseWriter, r *http.Request) (stock.Reference, []stock.Line, bool) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return stock.Reference{}, nil, false
	}
	ref, err := req.Reference()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid posting_date", err)
		return stock.Reference{}, nil, false
	}
	lines, err := toLines(req.Lines)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line", err)
		return stock.Reference{}, nil, false
	}
	return ref, lines, true
}

// =============================================================================
// QUEUE AND LEDGER HANDLERS
// =============================================================================

// ListQueues returns every costing queue.
// GET /api/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.Repo.ListQueues(r.Context())
	if err != nil {
		h.fail(w, "ListQueues", "Failed to list queues", nil, err)
		return
	}
	dtos := make([]QueueDTO, len(queues))
	for i, q := range queues {
		dtos[i] = toQueueDTO(q)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetQueue returns one costing queue. A never-used pair returns an empty
// queue with version 0.
// GET /api/queues/{item}/{location}
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.Engine.Queue(r.Context(), chi.URLParam(r, "item"), chi.URLParam(r, "location"))
	if err != nil {
		h.fail(w, "GetQueue", "Failed to load queue", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueDTO(q))
}

// GetLedger returns ledger rows.
// GET /api/ledger?item=&location=&reference_type=&reference_name=&until=YYYY-MM-DD
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := stock.LedgerFilter{
		Item:          q.Get("item"),
		Location:      q.Get("location"),
		ReferenceType: q.Get("reference_type"),
		ReferenceName: q.Get("reference_name"),
	}
	if until := q.Get("until"); until != "" {
		t, err := parseDate(until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until", err)
			return
		}
		filter.Until = &t
	}

	records, err := h.Repo.LedgerRows(r.Context(), filter)
	if err != nil {
		h.fail(w, "GetLedger", "Failed to load ledger", filter, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTOs(records))
}

// GetQuantityAt replays ledger rows up to a date.
// GET /api/ledger/quantity?item=&location=&at=YYYY-MM-DD
func (h *Handler) GetQuantityAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	item, location := q.Get("item"), q.Get("location")
	if item == "" || location == "" {
		writeError(w, http.StatusBadRequest, "item and location are required", nil)
		return
	}
	at, err := parseDate(q.Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	qty, err := h.Ledger.QuantityAt(r.Context(), item, location, at)
	if err != nil {
		h.fail(w, "GetQuantityAt", "Failed to replay ledger", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityAtDTO{
		Item:     item,
		Location: location,
		At:       at.Format(dateLayout),
		Quantity: qty.String(),
	})
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns all documents.
// GET /api/documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := h.Documents.List()
	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDocument stores a draft document.
// POST /api/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.PostingDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid posting_date", err)
		return
	}
	lines, err := toLines(req.Lines)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line", err)
		return
	}

	doc := document.New(document.Kind(req.Kind), req.Name, date, lines)
	doc.MovementType = document.MovementType(req.MovementType)

	created, err := h.Documents.Create(doc)
	if err != nil {
		h.fail(w, "CreateDocument", "Failed to create document", req.Name, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(created))
}

// GetDocument returns one document.
// GET /api/documents/{kind}/{name}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Documents.Get(document.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "GetDocument", "Failed to get document", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// SubmitDocument runs the submit hooks.
// POST /api/documents/{kind}/{name}/submit
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	kind, name := document.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "name")
	doc, err := h.Documents.Submit(r.Context(), kind, name, h.Engine)
	if err != nil {
		h.fail(w, "SubmitDocument", "Failed to submit document", name, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// CancelDocument runs the cancel hooks.
// POST /api/documents/{kind}/{name}/cancel
func (h *Handler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	kind, name := document.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "name")
	doc, err := h.Documents.Cancel(r.Context(), kind, name, h.Engine)
	if err != nil {
		h.fail(w, "CancelDocument", "Failed to cancel document", name, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// Reconcile runs a reconciliation check now.
// GET /api/reconciliation
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	found, err := h.Reconciler.Check(r.Context())
	if h.Metrics != nil {
		h.Metrics.RecordReconcile(len(found), err)
	}
	if err != nil {
		h.fail(w, "Reconcile", "Reconciliation failed", nil, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(time.Now().UTC(), found))
}

// LastReconciliation returns the scheduler's most recent result.
// GET /api/reconciliation/last
func (h *Handler) LastReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Reconciliation scheduler is not running", nil)
		return
	}
	at, found, ok := h.Scheduler.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "No reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(at, found))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// fail maps err to a status, logs server errors and writes the response.
func (h *Handler) fail(w http.ResponseWriter, funcName, message string, data any, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		logging.LogError(h.Logger, moduleName, funcName, message, data, err)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var ise *costing.InsufficientStockError
	if errors.As(err, &ise) {
		resp.Shortage = &ShortageDTO{
			Item:      ise.Item,
			Location:  ise.Location,
			Required:  ise.Requested.String(),
			Available: ise.Available.String(),
			Shortfall: ise.Shortfall().String(),
		}
	}
	writeJSON(w, status, resp)
}

// statusFor classifies engine, document and store errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, costing.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case stock.IsInvalidInput(err),
		errors.Is(err, document.ErrNoLines),
		errors.Is(err, document.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case costing.IsRetryable(err),
		errors.Is(err, lock.ErrNotObtained),
		errors.Is(err, document.ErrInvalidTransition),
		errors.Is(err, document.ErrDuplicate),
		errors.Is(err, stock.ErrAlreadyTransferred),
		errors.Is(err, stock.ErrNotTransferred):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func scenarioError(id string, err error) error {
	return fmt.Errorf("scenario %s: %w", id, err)
}
