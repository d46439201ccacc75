package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	"graph.write",
	"processing.write",
}

// AuthMiddleware requires a bearer token when auth is enabled. The token is
// either the master API key or a JWT verified against the configured JWKS.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cc := c.(*AppContext)
		if !cc.App.Config.Server.AuthEnabled {
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": "unauthorized"})
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		// Master API Key bypass
		if cc.App.MasterAPIKey != "" && token == cc.App.MasterAPIKey {
			cc.User = &AppUser{Subject: "master", Role: "admin", Permissions: allPermissions}
			return next(c)
		}

		if cc.App.Key == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": "unauthorized"})
		}
		parsed, err := jwt.Parse(token, cc.App.Key.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": "unauthorized"})
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": "unauthorized"})
		}

		subject, _ := claims.GetSubject()
		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}
		if role == "admin" && len(permissions) == 0 {
			permissions = allPermissions
		}

		cc.User = &AppUser{Subject: subject, Role: role, Permissions: permissions}
		return next(c)
	}
}
