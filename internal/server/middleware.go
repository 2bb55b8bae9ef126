package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/auth"
)

// CtxActorKey is the gin context key holding the verified auth.Actor.
const CtxActorKey = "actor"

// RequireAuth verifies "Authorization: Bearer <token>" and stores the actor
// in the context.
func RequireAuth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperr.CodeForbidden, "missing Authorization header"))
			return
		}
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperr.CodeForbidden, "invalid Authorization header"))
			return
		}

		actor, err := tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(apperr.CodeForbidden, "invalid token"))
			return
		}
		c.Set(CtxActorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (auth.Actor, bool) {
	v, ok := c.Get(CtxActorKey)
	if !ok {
		return auth.Actor{}, false
	}
	a, ok := v.(auth.Actor)
	return a, ok
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if actor, ok := actorFrom(c); ok {
			attrs = append(attrs, "actor", actor.EmployeeID)
		}
		if len(c.Errors) > 0 {
			logger.Error("request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		logger.Debug("request", attrs...)
	}
}
