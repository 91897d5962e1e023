package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
	"github.com/gatehouse-id/gatehouse/flow"
	"github.com/gatehouse-id/gatehouse/internal/auth"
	"github.com/gatehouse-id/gatehouse/services"
)

// API holds the HTTP surface's dependencies.
type API struct {
	resolver *flow.Resolver
	executor *flow.Executor
	oauth    *services.OAuthService
	tokens   *services.TokenService
	sessions *services.SessionService
	users    *services.UserService
	hasher   auth.PasswordHasher
}

// NewAPI initializes the HTTP API.
func NewAPI(resolver *flow.Resolver, executor *flow.Executor,
	oauth *services.OAuthService, tokens *services.TokenService,
	sessions *services.SessionService, users *services.UserService,
	hasher auth.PasswordHasher,
) *API {
	return &API{
		resolver: resolver,
		executor: executor,
		oauth:    oauth,
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		hasher:   hasher,
	}
}

// RegisterRoutes registers every route on the echo instance.
func (a *API) RegisterRoutes(e *echo.Echo, corsOrigins []string) {
	if len(corsOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     corsOrigins,
			AllowCredentials: true,
		}))
	}
	e.Use(middleware.Recover())
	e.Use(a.sessionMiddleware)

	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/browser/refresh", a.RefreshSessionHandler)
	e.DELETE("/auth/browser/logout", a.LogoutHandler)

	e.GET("/api/v1/flows/executor/:slug", a.FlowViewHandler)
	e.POST("/api/v1/flows/executor/:slug", a.FlowSubmitHandler)

	e.GET("/oauth/authorize", a.AuthorizeCheckHandler)
	e.POST("/oauth/authorize", a.AuthorizeDecisionHandler)
	e.POST("/oauth/token", a.TokenHandler)
}

// currentUser returns the session-bound user, if the request carries one.
func currentUser(c echo.Context) *domain.User {
	if user, ok := c.Get(contextKeyUser).(*domain.User); ok {
		return user
	}
	return nil
}

func currentSession(c echo.Context) *domain.Session {
	if session, ok := c.Get(contextKeySession).(*domain.Session); ok {
		return session
	}
	return nil
}

// httpError maps service errors onto HTTP responses. Storage errors keep
// only their correlation reference client side.
func httpError(c echo.Context, err error) error {
	var storage *serrors.StorageError
	var denied *serrors.PolicyDeniedError

	switch {
	case errors.Is(err, serrors.ErrFlowExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "flow_expired"})
	case errors.Is(err, serrors.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	case errors.Is(err, serrors.ErrAuthRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication_required"})
	case errors.Is(err, serrors.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, serrors.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.As(err, &denied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
	case errors.As(err, &storage):
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "internal error",
			"ref":   storage.CorrelationID,
		})
	default:
		log.Error().Err(err).Msg("unhandled API error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
