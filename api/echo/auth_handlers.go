package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type sessionResponse struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ExpiresAt string `json:"expires_at"`
}

// LoginHandler performs a direct credential login outside the flow
// engine. The failure response never reveals whether the account exists.
func (a *API) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
	}
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username and password are required"})
	}

	ctx := c.Request().Context()
	user, err := a.users.LookupByFields(ctx, req.Username,
		[]domain.UserField{domain.UserFieldName, domain.UserFieldEmail})
	if err != nil {
		return httpError(c, err)
	}
	if user == nil {
		return httpError(c, serrors.ErrInvalidCredentials)
	}
	if err := a.hasher.Verify(ctx, user.PasswordHash, req.Password); err != nil {
		return httpError(c, serrors.ErrInvalidCredentials)
	}

	session, err := a.sessions.Create(ctx, user.ID, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return httpError(c, err)
	}

	log.Info().Str("user_id", user.ID).Msg("direct login")
	c.SetCookie(a.sessions.Cookie(session))
	return c.JSON(http.StatusOK, sessionResponse{
		UserID:    user.ID,
		UserName:  user.Name,
		ExpiresAt: session.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// RefreshSessionHandler pushes the browser session expiry forward and
// reissues the cookie.
func (a *API) RefreshSessionHandler(c echo.Context) error {
	session := currentSession(c)
	if session == nil {
		return httpError(c, serrors.ErrAuthRequired)
	}

	extended, err := a.sessions.Extend(c.Request().Context(), session.ID)
	if err != nil {
		return httpError(c, err)
	}

	c.SetCookie(a.sessions.Cookie(extended))
	return c.JSON(http.StatusOK, sessionResponse{
		UserID:    extended.UserID,
		UserName:  currentUser(c).Name,
		ExpiresAt: extended.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// LogoutHandler revokes the browser session and clears the cookie.
func (a *API) LogoutHandler(c echo.Context) error {
	session := currentSession(c)
	if session == nil {
		return httpError(c, serrors.ErrAuthRequired)
	}

	if err := a.sessions.Revoke(c.Request().Context(), session.ID); err != nil {
		return httpError(c, err)
	}

	c.SetCookie(a.sessions.ClearCookie())
	return c.NoContent(http.StatusNoContent)
}
