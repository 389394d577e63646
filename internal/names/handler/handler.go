package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dattas/internal/ledger"
	"dattas/internal/names/models"
	"dattas/internal/origin"
	"dattas/internal/platform/middleware"
	id "dattas/pkg/domain"
	dErrors "dattas/pkg/domain-errors"
	audit "dattas/pkg/platform/audit"
	"dattas/pkg/platform/httputil"
	request "dattas/pkg/platform/middleware/request"
	pstrings "dattas/pkg/platform/strings"
)

const maxBatchQuery = 100

// Service defines the registry operations the handler exposes.
type Service interface {
	SetName(ctx context.Context, o origin.Origin, name models.Name) (audit.AuditEvent, error)
	ClearName(ctx context.Context, o origin.Origin) (id.Balance, error)
	KillName(ctx context.Context, o origin.Origin, target string) (id.Balance, error)
	ForceName(ctx context.Context, o origin.Origin, target string, name models.Name) error
	Query(ctx context.Context, account id.AccountID) (*models.NameRecord, error)
	QueryMany(ctx context.Context, accounts []id.AccountID) (map[id.AccountID]models.NameRecord, error)
	Balance(ctx context.Context, account id.AccountID) (ledger.Account, error)
	CheckDeposit(ctx context.Context, account id.AccountID) (models.DepositCheck, error)
}

// Handler serves the name registry over HTTP.
type Handler struct {
	service    Service
	logger     *slog.Logger
	tokens     middleware.TokenValidator
	adminToken string
}

func New(service Service, logger *slog.Logger, tokens middleware.TokenValidator, adminToken string) *Handler {
	return &Handler{
		service:    service,
		logger:     logger,
		tokens:     tokens,
		adminToken: adminToken,
	}
}

// Register mounts the registry routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveOrigin(h.tokens, h.adminToken, h.logger))

		r.Get("/names", h.handleQueryMany)
		r.Get("/names/{account}", h.handleQuery)
		r.Put("/names/me", h.handleSetName)
		r.Delete("/names/me", h.handleClearName)

		r.Get("/accounts/{account}", h.handleBalance)
		r.Get("/accounts/{account}/deposit-check", h.handleDepositCheck)

		r.Put("/admin/names/{target}", h.handleForceName)
		r.Delete("/admin/names/{target}", h.handleKillName)
	})
}

func (h *Handler) handleSetName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[NameRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	event, err := h.service.SetName(ctx, origin.FromContext(ctx), req.Bytes())
	if err != nil {
		h.writeError(ctx, w, "set name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EventResponse{Event: string(event)})
}

func (h *Handler) handleClearName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deposit, err := h.service.ClearName(ctx, origin.FromContext(ctx))
	if err != nil {
		h.writeError(ctx, w, "clear name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ClearResponse{
		Event:           string(audit.EventNameCleared),
		DepositRefunded: deposit,
	})
}

func (h *Handler) handleForceName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[NameRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	target := chi.URLParam(r, "target")
	if err := h.service.ForceName(ctx, origin.FromContext(ctx), target, req.Bytes()); err != nil {
		h.writeError(ctx, w, "force name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EventResponse{Event: string(audit.EventNameForced)})
}

func (h *Handler) handleKillName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := chi.URLParam(r, "target")
	deposit, err := h.service.KillName(ctx, origin.FromContext(ctx), target)
	if err != nil {
		h.writeError(ctx, w, "kill name", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KillResponse{
		Event:          string(audit.EventNameKilled),
		DepositSlashed: deposit,
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.Query(ctx, account)
	if err != nil {
		h.writeError(ctx, w, "query name", err)
		return
	}
	if record == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnnamed, "account has no name"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NewNameResponse(account, *record))
}

func (h *Handler) handleQueryMany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := pstrings.SplitFold(r.URL.Query()["account"])
	if len(raw) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "at least one account is required"))
		return
	}
	if len(raw) > maxBatchQuery {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "too many accounts in one query"))
		return
	}
	accounts := make([]id.AccountID, 0, len(raw))
	for _, s := range raw {
		account, err := id.ParseAccountID(s)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		accounts = append(accounts, account)
	}
	records, err := h.service.QueryMany(ctx, accounts)
	if err != nil {
		h.writeError(ctx, w, "query names", err)
		return
	}
	resp := NameListResponse{Names: make([]NameResponse, 0, len(records))}
	for _, account := range accounts {
		if record, ok := records[account]; ok {
			resp.Names = append(resp.Names, NewNameResponse(account, record))
			delete(records, account)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	acc, err := h.service.Balance(ctx, account)
	if err != nil {
		h.writeError(ctx, w, "load balance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountResponse(acc))
}

func (h *Handler) handleDepositCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := id.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	check, err := h.service.CheckDeposit(ctx, account)
	if err != nil {
		h.writeError(ctx, w, "check deposit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DepositCheckResponse{
		Account:    check.Account.String(),
		Named:      check.Named,
		Recorded:   check.Recorded,
		Reserved:   check.Reserved,
		Consistent: check.Consistent,
	})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, action string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+action,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
