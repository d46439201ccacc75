package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

// RequirePermission guards mutating routes. It lets every request through
// when auth is disabled.
func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := c.(*AppContext)
			if !cc.App.Config.Server.AuthEnabled {
				return next(c)
			}
			if cc.User == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized", "code": "unauthorized"})
			}
			if !HasPermission(cc.User, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission, "code": "forbidden"})
			}
			return next(c)
		}
	}
}
