package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/common/transport/httpresp"
	"negotiation_server/server/negotiation/domain"
)

type ErrorResponse = httpresp.ErrorResponse
type URLResponse = httpresp.URLResponse

type HealthResponse struct {
	Status string `json:"status"`
}

type AppendResponse struct {
	Session domain.Session `json:"session"`
	Message domain.Message `json:"message"`
}

type UnreadResponse struct {
	SessionID   string      `json:"session_id"`
	Role        domain.Role `json:"role"`
	UnreadCount int64       `json:"unread_count"`
}

type VisibilityRowResponse struct {
	AgencyID   string          `json:"agency_id"`
	FromUserID string          `json:"from_user_id"`
	Entries    map[string]bool `json:"entries"`
}

type VisibleResponse struct {
	Visible bool `json:"visible"`
}

type PublicProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewURLResponse(url string) URLResponse {
	return httpresp.NewURLResponse(url)
}

// respondError writes the error envelope for err. Only unexpected failures
// are logged at error level.
func respondError(c *gin.Context, err error) {
	status, body := httpresp.FromError(err)
	switch {
	case status >= http.StatusInternalServerError:
		commonlog.Errorf("event=http_request action=%s status=failed path=%s code=%s error=%v", c.Request.Method, c.FullPath(), body.Code, err)
	default:
		commonlog.Debugf("event=http_request action=%s status=rejected path=%s code=%s error=%v", c.Request.Method, c.FullPath(), body.Code, err)
	}
	c.AbortWithStatusJSON(status, body)
}
