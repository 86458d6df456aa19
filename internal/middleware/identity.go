package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// OrgHeader carries the calling organization's id.
	OrgHeader = "X-Org-ID"
	// AdminHeader carries the admin token.
	AdminHeader = "X-Admin-Token"

	orgIDKey = "org_id"
)

// Identify reads the caller's organization id. A missing header leaves the
// caller anonymous; a malformed one is rejected.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OrgHeader)
		if raw == "" {
			c.Next()
			return
		}
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": 400, "msg": OrgHeader + " must be a positive integer"})
			return
		}
		c.Set(orgIDKey, uint(id))
		c.Next()
	}
}

// OrgID returns the caller's organization id, or 0 when anonymous.
func OrgID(c *gin.Context) uint {
	if v, ok := c.Get(orgIDKey); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// AdminOnly guards routes with a shared admin token.
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		c.Next()
	}
}
