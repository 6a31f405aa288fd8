// drafts.go — обработчики /api/v1/drafts и /api/v1/session.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/goartstore/trail-module/internal/api/errors"
	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/service"
)

// HeaderTrailToken — заголовок самоподписанного токена сессии.
const HeaderTrailToken = "X-Trail-Token"

// createDraftRequest — тело POST /api/v1/drafts.
type createDraftRequest struct {
	ReferenceCode string          `json:"referenceCode"`
	OwnerID       string          `json:"ownerId"`
	OwnerEmail    string          `json:"ownerEmail"`
	Payload       json.RawMessage `json:"payload"`
}

// createDraftResponse — черновик и токен сессии владельца.
type createDraftResponse struct {
	*model.DraftTrail
	Token string `json:"token"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updatePaidRequest struct {
	IsPaid *bool `json:"isPaid"`
}

type deleteDraftResponse struct {
	ReferenceCode string `json:"referenceCode"`
	Deleted       bool   `json:"deleted"`
}

type draftListResponse struct {
	Items []*model.DraftTrail `json:"items"`
	Total int                 `json:"total"`
}

type sessionResponse struct {
	Subject  string              `json:"subject"`
	IssuedAt time.Time           `json:"issuedAt"`
	Items    []*model.DraftTrail `json:"items"`
}

// CreateDraft — POST /api/v1/drafts.
// Существующий черновик с тем же кодом заменяется.
func (h *APIHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.drafts.Create(r.Context(), service.CreateDraftInput{
		ReferenceCode: req.ReferenceCode,
		OwnerID:       req.OwnerID,
		OwnerEmail:    req.OwnerEmail,
		Payload:       req.Payload,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "создание черновика", req.ReferenceCode)
		return
	}

	w.Header().Set(HeaderTrailToken, res.Token)
	writeJSON(w, http.StatusCreated, createDraftResponse{DraftTrail: res.Draft, Token: res.Token})
}

// GetDraft — GET /api/v1/drafts/{code}. Аутентификация не требуется.
func (h *APIHandler) GetDraft(w http.ResponseWriter, r *http.Request, code string) {
	d, err := h.drafts.Get(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, r, err, "получение черновика", code)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListMyDrafts — GET /api/v1/drafts/mine.
func (h *APIHandler) ListMyDrafts(w http.ResponseWriter, r *http.Request) {
	items, err := h.drafts.ListOwn(r.Context(), authz.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "список черновиков владельца", "")
		return
	}
	writeJSON(w, http.StatusOK, newDraftList(items))
}

// UpdateDraftStatus — PUT /api/v1/drafts/{code}/status.
func (h *APIHandler) UpdateDraftStatus(w http.ResponseWriter, r *http.Request, code string) {
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		apierrors.ValidationError(w, "status обязателен")
		return
	}

	d, err := h.drafts.UpdateStatus(r.Context(), authz.IdentityFromContext(r.Context()), code, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err, "изменение статуса", code)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDraftPaid — PUT /api/v1/drafts/{code}/paid.
func (h *APIHandler) UpdateDraftPaid(w http.ResponseWriter, r *http.Request, code string) {
	var req updatePaidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsPaid == nil {
		apierrors.ValidationError(w, "isPaid обязателен")
		return
	}

	d, err := h.drafts.UpdatePaid(r.Context(), authz.IdentityFromContext(r.Context()), code, *req.IsPaid)
	if err != nil {
		h.writeServiceError(w, r, err, "изменение флага оплаты", code)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDraft — DELETE /api/v1/drafts/{code}.
func (h *APIHandler) DeleteDraft(w http.ResponseWriter, r *http.Request, code string) {
	if err := h.drafts.Delete(r.Context(), authz.IdentityFromContext(r.Context()), code); err != nil {
		h.writeServiceError(w, r, err, "удаление черновика", code)
		return
	}
	writeJSON(w, http.StatusOK, deleteDraftResponse{ReferenceCode: code, Deleted: true})
}

// DebugListDrafts — GET /api/v1/debug/drafts: полная очистка и все черновики.
func (h *APIHandler) DebugListDrafts(w http.ResponseWriter, r *http.Request) {
	items, err := h.drafts.ListAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "список всех черновиков", "")
		return
	}
	writeJSON(w, http.StatusOK, newDraftList(items))
}

// GetSession — GET /api/v1/session: возобновление по самоподписанному токену.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimSpace(r.Header.Get(HeaderTrailToken))
	if tok == "" {
		apierrors.Unauthorized(w, "Отсутствует заголовок "+HeaderTrailToken)
		return
	}

	s, err := h.drafts.Session(r.Context(), tok)
	if err != nil {
		h.writeServiceError(w, r, err, "возобновление сессии", "")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Subject:  s.Subject,
		IssuedAt: s.IssuedAt,
		Items:    nonNil(s.Drafts),
	})
}

func newDraftList(items []*model.DraftTrail) draftListResponse {
	items = nonNil(items)
	return draftListResponse{Items: items, Total: len(items)}
}

// nonNil заменяет nil-срез пустым, чтобы в JSON был [] вместо null.
func nonNil(items []*model.DraftTrail) []*model.DraftTrail {
	if items == nil {
		return []*model.DraftTrail{}
	}
	return items
}
