package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"negotiation_server/server/common/transport/httpresp"
)

const (
	ContextPartyID = "auth_party_id"
	ContextRole    = "auth_role"
	ContextToken   = "auth_access_token"
)

type tokenAuth interface {
	ParseAuthContext(token string) (partyID, role string, err error)
}

// BearerToken reads the token from the Authorization header, falling back to
// the access_token query parameter used by browser WebSocket clients.
func BearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token, true
		}
	}
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return token, true
	}
	return "", false
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		if !authenticate(c, auth, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Next()
	}
}

// OptionalAuth lets anonymous guests through but rejects a token that is
// present and invalid.
func OptionalAuth(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if !authenticate(c, auth, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, auth tokenAuth, token string) bool {
	partyID, role, err := auth.ParseAuthContext(token)
	if err != nil {
		return false
	}
	c.Set(ContextToken, token)
	c.Set(ContextPartyID, partyID)
	c.Set(ContextRole, role)
	return true
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[strings.TrimSpace(role)] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := Role(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		if _, ok := allowed[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrInsufficientRole))
			return
		}
		c.Next()
	}
}

// RestrictRoles lets anonymous requests through and applies the role check
// only to authenticated ones.
func RestrictRoles(roles ...string) gin.HandlerFunc {
	check := RequireRoles(roles...)
	return func(c *gin.Context) {
		if _, ok := Role(c); !ok {
			c.Next()
			return
		}
		check(c)
	}
}

func Role(c *gin.Context) (string, bool) {
	return stringFromContext(c, ContextRole)
}

func PartyID(c *gin.Context) (string, bool) {
	return stringFromContext(c, ContextPartyID)
}

func stringFromContext(c *gin.Context, key string) (string, bool) {
	raw, ok := c.Get(key)
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
