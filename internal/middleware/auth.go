package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/volcanion-company/volcanion-load-engine/internal/auth"
)

const apiKeyHeader = "X-API-Key"

// APIKeyMiddleware rejects requests without a valid API key. The key is
// read from X-API-Key or a Bearer authorization header.
func APIKeyMiddleware(service *auth.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				key = strings.TrimPrefix(header, "Bearer ")
			}
		}

		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		apiKey, err := service.ValidateAPIKey(key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set("api_key_id", apiKey.ID)
		c.Next()
	}
}
