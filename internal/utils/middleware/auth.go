package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// AgencyIDHeader carries the tenant identity propagated by the platform gateway.
	AgencyIDHeader = "X-Agency-ID"
	// UserIDHeader carries the acting user propagated by the platform gateway.
	UserIDHeader = "X-User-ID"
	// AgencyIDKey is the context key for the agency ID.
	AgencyIDKey = "agency_id"
	// UserIDKey is the context key for the user ID.
	UserIDKey = "user_id"
)

// TenantAuth returns a middleware that reads the tenant identity headers
// set by the platform gateway and stores them in the request context.
// Requests without an agency ID are rejected.
func TenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		agencyID := c.GetHeader(AgencyIDHeader)
		if agencyID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "agency identity required",
				},
			})
			return
		}

		c.Set(AgencyIDKey, agencyID)
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			c.Set(UserIDKey, userID)
		}

		c.Next()
	}
}

// GetAgencyID returns the agency ID from context, or empty string.
func GetAgencyID(c *gin.Context) string {
	return c.GetString(AgencyIDKey)
}

// GetUserID returns the user ID from context, or empty string.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
