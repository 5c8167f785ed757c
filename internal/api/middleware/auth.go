package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/terry-lonesski/laravel-echo-server/pkg/response"
)

type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
	}
}

// RequireApp accepts an HS256 bearer token whose app_id claim equals the
// :appId path parameter.
func (am *AuthMiddleware) RequireApp() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.jwtSecret) == 0 {
			response.Fail(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "API is disabled")
			return
		}

		authHeader := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			response.Fail(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header is required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return am.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			details := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				details = "token expired"
			}
			response.Fail(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, details)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "invalid token claims")
			return
		}

		appID, _ := claims["app_id"].(string)
		if appID == "" || appID != c.Param("appId") {
			response.Fail(c, http.StatusForbidden, response.ErrCodeAppMismatch, "")
			return
		}

		c.Set("app_id", appID)
		c.Next()
	}
}
