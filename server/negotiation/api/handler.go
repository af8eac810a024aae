package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "negotiation_server/server/common/auth"
	"negotiation_server/server/common/errs"
	"negotiation_server/server/common/middleware"
	"negotiation_server/server/negotiation/domain"
	"negotiation_server/server/negotiation/service"
)

// Services bundles the negotiation components exposed over HTTP.
type Services struct {
	Sessions   *service.SessionRegistry
	Messages   *service.MessageLog
	Payments   *service.PaymentWorkflow
	Visibility *service.VisibilityMatrix
	Proofs     *service.ProofStore
	Realtime   *service.RealtimeService
}

type Handler struct {
	svc          Services
	auth         *commonauth.Service
	authRequired bool
}

// NewHandler builds the HTTP surface. With authRequired false, requests
// without a bearer token are served as anonymous callers.
func NewHandler(svc Services, jwtSecret string, jwtTTLMinutes int, authRequired bool) *Handler {
	return &Handler{
		svc:          svc,
		auth:         commonauth.NewService(jwtSecret, jwtTTLMinutes),
		authRequired: authRequired,
	}
}

var writerRoles = []string{string(domain.RoleOwner), string(domain.RoleManager), string(domain.RoleAgency)}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })
	r.GET("/ws", h.authenticate(), h.handleWS)

	api := r.Group("/api/v1")
	api.Use(h.authenticate())
	writers := h.requireRoles(writerRoles...)
	{
		api.POST("/sessions", h.createSession)
		api.GET("/sessions", h.listSessions)
		api.POST("/sessions/messages", h.appendByParties)
		api.GET("/sessions/:id", h.getSession)
		api.POST("/sessions/:id/archive", writers, h.archiveSession)
		api.GET("/sessions/:id/messages", h.listMessages)
		api.POST("/sessions/:id/messages", h.appendMessage)
		api.PATCH("/sessions/:id/read", h.markRead)
		api.GET("/sessions/:id/unread", h.unread)
		api.GET("/sessions/:id/payments", h.listPayments)

		api.POST("/payments", writers, h.createPayment)
		api.GET("/payments/:id", h.getPayment)
		api.PATCH("/payments/:id", writers, h.decidePayment)
		api.POST("/payments/:id/proof", h.uploadProof)
		api.GET("/payments/:id/proof", h.proofURL)

		api.GET("/visibility/:agencyId/:fromUserId", h.getVisibility)
		api.POST("/visibility/:agencyId/:fromUserId", writers, h.applyVisibility)
		api.GET("/visibility/:agencyId/:fromUserId/:toUserId", h.isVisible)
		api.GET("/agencies/:agencyId/public-profiles", h.listPublicProfiles)
		api.PUT("/agencies/:agencyId/public-profiles/:userId", writers, h.setPublic)
	}
}

func (h *Handler) authenticate() gin.HandlerFunc {
	if h.authRequired {
		return middleware.AuthRequired(h.auth)
	}
	return middleware.OptionalAuth(h.auth)
}

func (h *Handler) requireRoles(roles ...string) gin.HandlerFunc {
	if h.authRequired {
		return middleware.RequireRoles(roles...)
	}
	return middleware.RestrictRoles(roles...)
}

func callerFromContext(c *gin.Context) service.Caller {
	role, ok := middleware.Role(c)
	if !ok {
		return service.Caller{}
	}
	partyID, _ := middleware.PartyID(c)
	parsed, known := domain.ParseRole(role)
	if !known {
		parsed = domain.Role(role)
	}
	return service.Caller{PartyID: partyID, Role: parsed}
}

func (h *Handler) handleWS(c *gin.Context) {
	h.svc.Realtime.HandleWS(c, callerFromContext(c))
}

func (h *Handler) createSession(c *gin.Context) {
	var key domain.SessionKey
	if err := c.ShouldBindJSON(&key); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	key = key.Normalize()
	if err := service.AuthorizeSession(key.NewSession(), callerFromContext(c)); err != nil {
		respondError(c, err)
		return
	}
	s, err := h.svc.Sessions.GetOrCreate(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) listSessions(c *gin.Context) {
	caller := callerFromContext(c)
	role := domain.Role(strings.TrimSpace(c.Query("role")))
	partyID := strings.TrimSpace(c.Query("id"))
	if !caller.Anonymous() {
		if role == "" {
			role = caller.Role
		}
		if partyID == "" {
			partyID = caller.PartyID
		}
		if parsed, _ := domain.ParseRole(string(role)); parsed != caller.Role || partyID != caller.PartyID {
			respondError(c, errs.Forbidden("cannot list sessions of %s %s", role, partyID))
			return
		}
	}
	items, err := h.svc.Sessions.ListForParty(c.Request.Context(), role, partyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getSession(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) archiveSession(c *gin.Context) {
	if _, ok := h.authorizedSession(c); !ok {
		return
	}
	s, err := h.svc.Sessions.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// authorizedSession loads the session named by the :id parameter and checks
// the caller is one of its parties. It writes the error response itself.
func (h *Handler) authorizedSession(c *gin.Context) (domain.Session, bool) {
	s, err := h.svc.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err == nil {
		err = service.AuthorizeSession(s, callerFromContext(c))
	}
	if err != nil {
		respondError(c, err)
		return domain.Session{}, false
	}
	return s, true
}

func (h *Handler) appendByParties(c *gin.Context) {
	var req struct {
		domain.SessionKey
		Message domain.MessageDraft `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	caller := callerFromContext(c)
	key := req.SessionKey.Normalize()
	draft := req.Message.Normalize()
	if err := service.AuthorizeSession(key.NewSession(), caller); err != nil {
		respondError(c, err)
		return
	}
	if err := service.AuthorizeSender(caller, draft.Sender); err != nil {
		respondError(c, err)
		return
	}
	s, msg, err := h.svc.Messages.AppendByParties(c.Request.Context(), key, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, AppendResponse{Session: s, Message: msg})
}

func (h *Handler) appendMessage(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	var draft domain.MessageDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	draft = draft.Normalize()
	if err := service.AuthorizeSender(callerFromContext(c), draft.Sender); err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.svc.Messages.Append(c.Request.Context(), s.ID, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) listMessages(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	since, err := queryInt(c, "since")
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	items, err := h.svc.Messages.List(c.Request.Context(), s.ID, since, int(limit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) markRead(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	var req struct {
		ReaderRole domain.Role `json:"reader_role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	reader, err := readerRole(callerFromContext(c), req.ReaderRole)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.svc.Messages.MarkRead(c.Request.Context(), s.ID, reader); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unread(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	reader, err := readerRole(callerFromContext(c), domain.Role(c.Query("role")))
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := h.svc.Messages.Unread(c.Request.Context(), s.ID, reader)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, UnreadResponse{SessionID: s.ID, Role: reader, UnreadCount: n})
}

// readerRole defaults the reader to the token role and forbids reading on
// behalf of another role.
func readerRole(caller service.Caller, requested domain.Role) (domain.Role, error) {
	requested = domain.Role(strings.TrimSpace(string(requested)))
	if caller.Anonymous() {
		if requested == "" {
			return "", errs.Invalid("reader_role", "is required")
		}
		return requested, nil
	}
	if requested == "" {
		return caller.Role, nil
	}
	if parsed, _ := domain.ParseRole(string(requested)); parsed != caller.Role {
		return "", errs.Forbidden("token role %s cannot act as %s", caller.Role, requested)
	}
	return caller.Role, nil
}

func queryInt(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.Invalid(name, "must be an integer")
	}
	return n, nil
}
