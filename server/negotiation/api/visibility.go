package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"negotiation_server/server/common/errs"
	"negotiation_server/server/negotiation/domain"
)

func (h *Handler) getVisibility(c *gin.Context) {
	agencyID, fromUserID := c.Param("agencyId"), c.Param("fromUserId")
	row, err := h.svc.Visibility.Get(c.Request.Context(), agencyID, fromUserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VisibilityRowResponse{AgencyID: agencyID, FromUserID: fromUserID, Entries: row})
}

func (h *Handler) applyVisibility(c *gin.Context) {
	agencyID := c.Param("agencyId")
	if !h.actsForAgency(c, agencyID) {
		return
	}
	var req struct {
		DesiredVisibleSet []string `json:"desired_visible_set"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	if _, err := h.svc.Visibility.ApplyDiff(c.Request.Context(), agencyID, c.Param("fromUserId"), req.DesiredVisibleSet); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) isVisible(c *gin.Context) {
	visible, err := h.svc.Visibility.IsVisible(c.Request.Context(), c.Param("agencyId"), c.Param("fromUserId"), c.Param("toUserId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VisibleResponse{Visible: visible})
}

func (h *Handler) listPublicProfiles(c *gin.Context) {
	profiles, err := h.svc.Visibility.ListPublicProfiles(c.Request.Context(), c.Param("agencyId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PublicProfilesResponse{Profiles: profiles})
}

func (h *Handler) setPublic(c *gin.Context) {
	agencyID := c.Param("agencyId")
	if !h.actsForAgency(c, agencyID) {
		return
	}
	var req struct {
		IsPublic *bool `json:"is_public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Invalid("body", err.Error()))
		return
	}
	if req.IsPublic == nil {
		respondError(c, errs.Invalid("is_public", "is required"))
		return
	}
	if err := h.svc.Visibility.SetPublic(c.Request.Context(), agencyID, c.Param("userId"), *req.IsPublic); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// actsForAgency lets an agency token edit only its own matrix.
func (h *Handler) actsForAgency(c *gin.Context, agencyID string) bool {
	caller := callerFromContext(c)
	if caller.Role == domain.RoleAgency && caller.PartyID != agencyID {
		respondError(c, errs.Forbidden("agency %s cannot edit %s", caller.PartyID, agencyID))
		return false
	}
	return true
}
