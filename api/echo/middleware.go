package echo

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/services"
)

const (
	contextKeyUser    = "gatehouse.user"
	contextKeySession = "gatehouse.session"
)

// sessionMiddleware resolves the session cookie into a user and stashes
// both on the request context. Requests without a valid session pass
// through unauthenticated.
func (a *API) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(services.SessionCookieName)
		if err != nil || cookie.Value == "" {
			return next(c)
		}

		ctx := c.Request().Context()
		session, err := a.sessions.Get(ctx, cookie.Value)
		if err != nil {
			return next(c)
		}

		user, err := a.users.GetByID(ctx, session.UserID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("session references missing user")
			return next(c)
		}

		c.Set(contextKeySession, session)
		c.Set(contextKeyUser, user)
		return next(c)
	}
}
