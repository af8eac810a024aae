package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"negotiation_server/server/common/errs"
	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/domain"
	"negotiation_server/server/negotiation/service"
)

func (h *Handler) createPayment(c *gin.Context) {
	var req struct {
		SessionID   string      `json:"session_id"`
		RequestedBy domain.Role `json:"requested_by"`
		domain.PaymentTerms
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	ctx := c.Request.Context()
	s, err := h.svc.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	caller := callerFromContext(c)
	if err := service.AuthorizeSession(s, caller); err != nil {
		respondError(c, err)
		return
	}
	requestedBy := req.RequestedBy
	if !caller.Anonymous() {
		requestedBy = caller.Role
	}
	p, err := h.svc.Payments.CreateRequest(ctx, s.ID, requestedBy, req.PaymentTerms)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getPayment(c *gin.Context) {
	p, _, ok := h.authorizedPayment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listPayments(c *gin.Context) {
	s, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	items, err := h.svc.Payments.ListForSession(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) decidePayment(c *gin.Context) {
	p, s, ok := h.authorizedPayment(c)
	if !ok {
		return
	}
	if !h.onSide(c, s, domain.SideB) {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	outcome, _ := domain.ParsePaymentStatus(req.Status)
	updated, err := h.svc.Payments.Decide(c.Request.Context(), p.ID, outcome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) uploadProof(c *gin.Context) {
	p, s, ok := h.authorizedPayment(c)
	if !ok {
		return
	}
	if !h.onSide(c, s, domain.SideA) {
		return
	}
	// The workflow re-checks the status with a compare-and-set.
	if _, err := domain.NextStatus(p.Status, domain.EventUploadProof); err != nil {
		respondError(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, errs.Invalid("file", "is required"))
		return
	}
	if header.Size > service.MaxProofBytes {
		respondError(c, errs.Invalid("file", "exceeds 10 MiB"))
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, errs.Invalid("file", "cannot be read"))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	handle, err := h.svc.Proofs.Save(ctx, p.ID, header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	updated, err := h.svc.Payments.UploadProof(ctx, p.ID, handle)
	if err != nil {
		commonlog.Warnf("event=payment_proof action=attach status=failed payment_id=%s object=%s error=%v", p.ID, handle.Image, err)
		h.svc.Proofs.Discard(ctx, handle)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) proofURL(c *gin.Context) {
	p, _, ok := h.authorizedPayment(c)
	if !ok {
		return
	}
	url, err := h.svc.Proofs.URL(c.Request.Context(), p.ProofImage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewURLResponse(url))
}

func (h *Handler) authorizedPayment(c *gin.Context) (domain.PaymentRequest, domain.Session, bool) {
	ctx := c.Request.Context()
	p, err := h.svc.Payments.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return domain.PaymentRequest{}, domain.Session{}, false
	}
	s, err := h.svc.Sessions.Get(ctx, p.SessionID)
	if err == nil {
		err = service.AuthorizeSession(s, callerFromContext(c))
	}
	if err != nil {
		respondError(c, err)
		return domain.PaymentRequest{}, domain.Session{}, false
	}
	return p, s, true
}

// onSide requires an authenticated caller to speak for the given side.
func (h *Handler) onSide(c *gin.Context, s domain.Session, want domain.Side) bool {
	caller := callerFromContext(c)
	if caller.Anonymous() {
		return true
	}
	if side, ok := s.Side(caller.Role); !ok || side != want {
		respondError(c, errs.Forbidden("%s cannot perform this payment step", caller.Role))
		return false
	}
	return true
}
