package echo

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gatehouse-id/gatehouse/flow"
)

// FlowViewHandler starts a flow execution, or renders the state of an
// existing one when the execution query parameter is present.
func (a *API) FlowViewHandler(c echo.Context) error {
	ctx := c.Request().Context()

	if executionID := c.QueryParam("execution"); executionID != "" {
		data, err := a.executor.View(ctx, executionID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, data)
	}

	caller := currentUser(c)
	resolved, err := a.resolver.BySlug(ctx, c.Param("slug"), caller)
	if err != nil {
		return httpError(c, err)
	}

	opts := flow.BeginOptions{
		Caller:     caller,
		RemoteAddr: c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
		Query: flow.Query{
			ClientID: c.QueryParam("client_id"),
			Next:     c.QueryParam("next"),
		},
	}
	if scope := c.QueryParam("scope"); scope != "" {
		opts.Query.Scopes = strings.Fields(scope)
	}
	if session := currentSession(c); session != nil {
		opts.CallerSessionID = session.ID
	}

	data, err := a.executor.Begin(ctx, resolved, opts)
	if err != nil {
		return httpError(c, err)
	}
	return a.respond(c, data)
}

// FlowSubmitHandler applies client input to the execution named by the
// execution query parameter.
func (a *API) FlowSubmitHandler(c echo.Context) error {
	executionID := c.QueryParam("execution")
	if executionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "execution parameter is required"})
	}

	input := map[string]string{}
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
	}

	data, err := a.executor.Submit(c.Request().Context(), executionID, input)
	if err != nil {
		return httpError(c, err)
	}
	return a.respond(c, data)
}

// respond serializes executor data, turning a freshly created login
// session into the browser cookie first.
func (a *API) respond(c echo.Context, data *flow.Data) error {
	if data.SessionID != "" {
		session, err := a.sessions.Get(c.Request().Context(), data.SessionID)
		if err == nil {
			c.SetCookie(a.sessions.Cookie(session))
		}
	}
	return c.JSON(http.StatusOK, data)
}
