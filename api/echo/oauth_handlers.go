package echo

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	serrors "github.com/gatehouse-id/gatehouse/errors"
	"github.com/gatehouse-id/gatehouse/services"
)

func authorizeRequestFrom(c echo.Context) *services.AuthorizeRequest {
	return &services.AuthorizeRequest{
		ClientID:     c.QueryParam("client_id"),
		RedirectURI:  c.QueryParam("redirect_uri"),
		ResponseType: c.QueryParam("response_type"),
		State:        c.QueryParam("state"),
		Scopes:       strings.Fields(c.QueryParam("scope")),
	}
}

// AuthorizeCheckHandler validates the authorization request and returns
// the payload the consent screen renders. It requires a session.
func (a *API) AuthorizeCheckHandler(c echo.Context) error {
	user := currentUser(c)
	if user == nil {
		return httpError(c, serrors.ErrAuthRequired)
	}

	result, aerr := a.oauth.Check(c.Request().Context(), authorizeRequestFrom(c), user)
	if aerr != nil {
		return authorizeErrorResponse(c, aerr)
	}
	return c.JSON(http.StatusOK, result)
}

// authorizeErrorResponse delivers an authorization error: via redirect
// once the redirect URI has been vetted, rendered directly before that.
func authorizeErrorResponse(c echo.Context, aerr *services.AuthorizeError) error {
	if aerr.Redirect != "" {
		return c.Redirect(http.StatusFound, aerr.Redirect)
	}
	status := http.StatusBadRequest
	if aerr.Err.Code == serrors.ServerError {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, aerr.Err)
}

// AuthorizeDecisionHandler applies the user's consent decision. The
// action parameter is either authorize_next or deny; both end in a
// redirect back to the client.
func (a *API) AuthorizeDecisionHandler(c echo.Context) error {
	user := currentUser(c)
	session := currentSession(c)
	if user == nil || session == nil {
		return httpError(c, serrors.ErrAuthRequired)
	}

	req := authorizeRequestFrom(c)
	ctx := c.Request().Context()

	var result *services.AuthorizeResult
	switch action := c.FormValue("action"); action {
	case "authorize_next":
		result = a.oauth.Authorize(ctx, req, user, session.ID)
	case "deny":
		result = a.oauth.Deny(ctx, req)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown action"})
	}

	if result.Err != nil {
		return authorizeErrorResponse(c, result.Err)
	}
	return c.Redirect(http.StatusFound, result.Redirect)
}

// TokenHandler implements the token endpoint. Client credentials arrive
// either as HTTP Basic auth or as form parameters.
func (a *API) TokenHandler(c echo.Context) error {
	clientID, clientSecret, ok := c.Request().BasicAuth()
	if !ok {
		clientID = c.FormValue("client_id")
		clientSecret = c.FormValue("client_secret")
	}

	pair, oerr := a.oauth.Exchange(c.Request().Context(),
		c.FormValue("grant_type"),
		c.FormValue("code"),
		c.FormValue("refresh_token"),
		clientID, clientSecret,
		c.FormValue("redirect_uri"))
	if oerr != nil {
		status := http.StatusBadRequest
		switch oerr.Code {
		case serrors.InvalidClient:
			status = http.StatusUnauthorized
		case serrors.ServerError:
			status = http.StatusInternalServerError
		}
		return c.JSON(status, oerr)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
	return c.JSON(http.StatusOK, pair)
}
