// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → RateLimit → Auth → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any DB work.
// Auth loads the caller and its groups; handlers and the publish guard read them
// from the context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/auth"
	"github.com/collection-hub/collection-hub/internal/config"
	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/safego"
)

// Context keys set by AuthMiddleware
const (
	UserKey       = "user"
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthMethodKey = "auth_method"
	APIKeyIDKey   = "api_key_id"
)

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// AuthMiddleware validates the bearer credential (JWT or API key) and loads
// the caller with its groups.
func AuthMiddleware(cfg *config.Config, userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	apiKeysEnabled := cfg == nil || cfg.Auth.APIKeys.Enabled

	return func(c *gin.Context) {
		token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()

		// JWT is checked first because it needs no database round-trip.
		if claims, err := auth.ValidateJWT(token); err == nil {
			user, err := userRepo.GetUserByID(ctx, claims.UserID())
			if err != nil {
				slog.ErrorContext(ctx, "failed to load user for token", "user_id", claims.UserID(), "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
				return
			}
			if user == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
				return
			}

			setUser(c, user, "jwt")
			c.Next()
			return
		}

		if !apiKeysEnabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		// Only the clear-text prefix is indexed; bcrypt runs on the few candidates it selects.
		apiKey, err := authenticateAPIKey(ctx, token, apiKeyRepo)
		if err != nil {
			slog.ErrorContext(ctx, "api key lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}
		if apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if apiKey.IsExpired(time.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key expired"})
			return
		}

		user, err := userRepo.GetUserByID(ctx, apiKey.UserID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load api key owner", "api_key_id", apiKey.ID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		// Best effort; a lost last-used timestamp is not a correctness problem.
		keyID := apiKey.ID
		safego.Go("api-key-last-used", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiKeyRepo.UpdateLastUsed(ctx, keyID); err != nil {
				slog.Debug("failed to update api key last-used", "api_key_id", keyID, "error", err)
			}
		})

		c.Set(APIKeyIDKey, apiKey.ID)
		setUser(c, user, "api_key")
		c.Next()
	}
}

func setUser(c *gin.Context, user *models.User, method string) {
	c.Set(UserKey, user)
	c.Set(UserIDKey, user.ID)
	c.Set(UsernameKey, user.Username)
	c.Set(AuthMethodKey, method)
}

// authenticateAPIKey attempts to authenticate an API key by prefix lookup and bcrypt validation
func authenticateAPIKey(ctx context.Context, providedKey string, apiKeyRepo *repositories.APIKeyRepository) (*models.APIKey, error) {
	keys, err := apiKeyRepo.GetAPIKeysByPrefix(ctx, auth.LookupPrefix(providedKey))
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if auth.ValidateAPIKey(providedKey, key.KeyHash) {
			return key, nil
		}
	}
	return nil, nil
}
