package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/pkg/logging"
)

// Auth resolves the bearer token of every request into the acting identity. Requests
// without a usable token are answered with a JSON-RPC error and HTTP 401.
func Auth(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.ResolveHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, JSONRPCResponse{
				JSONRPC: "2.0",
				Error: &JSONRPCError{
					Code:    ErrUnauthorized,
					Message: "Unauthorized",
					Data:    err.Error(),
				},
			})
			return
		}

		c.Request = c.Request.WithContext(identity.NewContext(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogger logs one line per request with the acting party when known
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger := logging.WithComponent("http")
		if id, ok := identity.FromContext(c.Request.Context()); ok {
			logger = logging.WithParty(id.Party)
		}
		logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}
