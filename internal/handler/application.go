package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/service"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ApplicationHandler handles the application lifecycle endpoints.
type ApplicationHandler struct {
	appSvc *service.ApplicationService
}

// NewApplicationHandler creates a new ApplicationHandler.
func NewApplicationHandler(appSvc *service.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{appSvc: appSvc}
}

type createApplicationRequest struct {
	ServiceKey     string          `json:"service_key"`
	ServiceVersion int             `json:"service_version"`
	AuthorityID    string          `json:"authority_id"`
	ApplicantID    string          `json:"applicant_id"` // officers filing on behalf of a citizen
	Data           json.RawMessage `json:"data"`
}

// Create handles POST /applications.
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req createApplicationRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	applicant := actor.ID
	if actor.Type != domain.ActorCitizen {
		applicant = req.ApplicantID
	}
	applicantID, err := uuid.Parse(applicant)
	if err != nil {
		RespondError(w, domain.ErrValidation("applicant_id must be a UUID"))
		return
	}

	app, err := h.appSvc.Create(r.Context(), domain.CreateApplicationParams{
		ServiceKey:     req.ServiceKey,
		ServiceVersion: req.ServiceVersion,
		AuthorityID:    req.AuthorityID,
		ApplicantID:    applicantID,
		Data:           req.Data,
	}, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, app)
}

// Get handles GET /applications/{arn}.
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	app, err := h.appSvc.Get(r.Context(), chi.URLParam(r, "arn"), actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, app)
}

type updateDataRequest struct {
	RowVersion int64           `json:"row_version"`
	Data       json.RawMessage `json:"data"`
}

// UpdateData handles PATCH /applications/{arn}/data.
func (h *ApplicationHandler) UpdateData(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req updateDataRequest
	if err := DecodeJSON(r, &req); err != nil || req.RowVersion <= 0 {
		badBody(w)
		return
	}

	app, err := h.appSvc.UpdateData(r.Context(), chi.URLParam(r, "arn"), req.RowVersion, req.Data, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, app)
}

// Submit handles POST /applications/{arn}/submit.
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	app, err := h.appSvc.Submit(r.Context(), chi.URLParam(r, "arn"), actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, app)
}

type queryResponseRequest struct {
	RowVersion int64           `json:"row_version"`
	Response   json.RawMessage `json:"response"`
}

// RespondToQuery handles POST /applications/{arn}/query-response.
func (h *ApplicationHandler) RespondToQuery(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req queryResponseRequest
	if err := DecodeJSON(r, &req); err != nil || req.RowVersion <= 0 {
		badBody(w)
		return
	}

	app, err := h.appSvc.RespondToQuery(r.Context(), chi.URLParam(r, "arn"), req.RowVersion, req.Response, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, app)
}

type transitionRequest struct {
	TransitionID string                 `json:"transition_id"`
	Remarks      string                 `json:"remarks"`
	Context      map[string]interface{} `json:"context"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// ExecuteTransition handles POST /applications/{arn}/transitions (officers).
func (h *ApplicationHandler) ExecuteTransition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req transitionRequest
	if err := DecodeJSON(r, &req); err != nil {
		badBody(w)
		return
	}

	result, err := h.appSvc.ExecuteTransition(r.Context(), workflow.TransitionRequest{
		ARN:          chi.URLParam(r, "arn"),
		TransitionID: req.TransitionID,
		ActorID:      actor.ID,
		ActorType:    actor.Type,
		Context:      req.Context,
		Remarks:      req.Remarks,
		Metadata:     req.Metadata,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// ListAudit handles GET /applications/{arn}/audit.
func (h *ApplicationHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.appSvc.ListAudit(r.Context(), chi.URLParam(r, "arn"), limit, actor)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// actorFromRequest extracts the authenticated actor from auth context.
func actorFromRequest(r *http.Request) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor.ID == "" {
		return domain.Actor{}, domain.ErrUnauthorized("no subject in context")
	}
	if actor.Type == domain.ActorCitizen {
		if _, err := uuid.Parse(actor.ID); err != nil {
			return domain.Actor{}, domain.ErrUnauthorized("invalid subject")
		}
	}
	return actor, nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, domain.ErrValidation(param + " must be a UUID")
	}
	return id, nil
}
