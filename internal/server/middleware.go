package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/fleetlane/fleetlane/internal/observability/context"
	"github.com/gin-gonic/gin"
)

const orgIDContextKey = "org_id"

// OrgContext resolves the caller's organization from the X-Org-Id header set
// by the edge proxy after authentication. Requests without it are rejected.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-Org-Id"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(orgIDContextKey, snowflake.ID(parsed))
		ctx := obscontext.WithOrgID(c.Request.Context(), raw)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(orgIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok
}
