package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// authCodeTTL bounds how long an authorization code may sit unexchanged.
const authCodeTTL = time.Minute

// AuthorizeRequest carries the parameters of an authorization request.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Scopes       []string
}

// CheckResult is returned by Check so the authorization UI can render the
// consent screen before the user decides.
type CheckResult struct {
	AppName         string   `json:"app_name"`
	Scopes          []string `json:"scopes"`
	InvalidScopes   []string `json:"invalid_scopes,omitempty"`
	ConsentRequired bool     `json:"consent_required"`
}

// AuthorizeError is an authorization request failure. Once the redirect
// URI has been vetted the error travels back to the client through it,
// so Redirect carries the target; before that it is empty and the error
// is rendered directly.
type AuthorizeError struct {
	Err      *serrors.OAuth2Error
	Redirect string
}

// AuthorizeResult is the outcome of Authorize or Deny. Exactly one of
// Redirect (with optional Granted) or Err is set.
type AuthorizeResult struct {
	Redirect string
	Granted  *TokenPair
	Err      *AuthorizeError
}

// pendingGrant is the state bound to an authorization code awaiting
// exchange at the token endpoint.
type pendingGrant struct {
	oauthSessionID string
	clientID       string
	redirectURI    string
}

// OAuthService validates authorization requests, records consent decisions
// and drives token issuance for granted sessions.
type OAuthService struct {
	repo     domain.OAuthRepository
	consents domain.ConsentRepository
	tokens   *TokenService

	codes *ttlcache.Cache[string, pendingGrant]

	now func() time.Time
}

// NewOAuthService creates a new OAuthService.
func NewOAuthService(repo domain.OAuthRepository, consents domain.ConsentRepository, tokens *TokenService) *OAuthService {
	codes := ttlcache.New[string, pendingGrant](
		ttlcache.WithTTL[string, pendingGrant](authCodeTTL),
		ttlcache.WithDisableTouchOnHit[string, pendingGrant](),
	)
	go codes.Start()

	return &OAuthService{
		repo:     repo,
		consents: consents,
		tokens:   tokens,
		codes:    codes,
		now:      time.Now,
	}
}

// Check validates an authorization request against the registered
// application and reports what the consent screen should show. Validation
// failures are returned as OAuth errors in the order: unknown client,
// inactive client, redirect URI, scopes, response type.
func (s *OAuthService) Check(ctx context.Context, req *AuthorizeRequest, user *domain.User) (*CheckResult, *AuthorizeError) {
	app, group, aerr := s.validate(ctx, req)
	if aerr != nil {
		return nil, aerr
	}

	valid, invalid := splitScopes(req.Scopes, group.AllowedScopes)

	result := &CheckResult{
		AppName:         app.Name,
		Scopes:          valid,
		InvalidScopes:   invalid,
		ConsentRequired: true,
	}

	if user != nil {
		consent, err := s.consents.GetConsent(ctx, user.ID, app.ClientID)
		if err != nil && !errors.Is(err, serrors.ErrNotFound) {
			return nil, redirectError(req, serrors.NewServerError("internal error"))
		}
		if consent.Satisfies(valid, s.now()) {
			result.ConsentRequired = false
		}
	}

	return result, nil
}

// Authorize records the user's approval, binds (or refreshes) the OAuth
// session for this user and client, and mints tokens. The returned redirect
// carries either an authorization code or, for the implicit response type,
// the access token in the fragment.
func (s *OAuthService) Authorize(ctx context.Context, req *AuthorizeRequest, user *domain.User, browserSessionID string) *AuthorizeResult {
	app, group, aerr := s.validate(ctx, req)
	if aerr != nil {
		return &AuthorizeResult{Err: aerr}
	}

	scopes, _ := splitScopes(req.Scopes, group.AllowedScopes)
	now := s.now()

	consent := &domain.Consent{
		UserID:   user.ID,
		ClientID: app.ClientID,
		Scopes:   scopes,
		Given:    true,
		Mode:     app.ConsentMode,
	}
	if app.ConsentMode == domain.ConsentModeUntil {
		expiry := now.Add(time.Duration(app.ConsentExpireSeconds) * time.Second)
		consent.ExpiresAt = &expiry
	}
	if err := s.consents.UpsertConsent(ctx, consent); err != nil {
		return &AuthorizeResult{Err: redirectError(req, serrors.NewServerError("internal error"))}
	}

	session, err := s.repo.UpsertOAuthSession(ctx, &domain.OAuthSession{
		UserID:    user.ID,
		ClientID:  app.ClientID,
		SessionID: browserSessionID,
		Scopes:    scopes,
	})
	if err != nil {
		return &AuthorizeResult{Err: redirectError(req, serrors.NewServerError("internal error"))}
	}

	if req.ResponseType == "token" {
		pair, err := s.tokens.Issue(ctx, session)
		if err != nil {
			log.Error().Err(err).Str("client_id", app.ClientID).Msg("token issuance failed")
			return &AuthorizeResult{Err: redirectError(req, serrors.NewServerError("internal error"))}
		}
		return &AuthorizeResult{
			Redirect: implicitRedirect(req.RedirectURI, req.State, pair),
			Granted:  pair,
		}
	}

	code := uuid.NewString()
	s.codes.Set(code, pendingGrant{
		oauthSessionID: session.ID,
		clientID:       app.ClientID,
		redirectURI:    req.RedirectURI,
	}, ttlcache.DefaultTTL)

	return &AuthorizeResult{Redirect: codeRedirect(req.RedirectURI, req.State, code)}
}

// Deny rejects the authorization request and sends the user agent back to
// the client with an access_denied error.
func (s *OAuthService) Deny(ctx context.Context, req *AuthorizeRequest) *AuthorizeResult {
	if _, _, aerr := s.validate(ctx, req); aerr != nil {
		return &AuthorizeResult{Err: aerr}
	}
	return &AuthorizeResult{Redirect: errorRedirect(req.RedirectURI, req.State, serrors.NewAccessDenied("the resource owner denied the request"))}
}

// Exchange implements the token endpoint grants: authorization_code and
// refresh_token.
func (s *OAuthService) Exchange(ctx context.Context, grantType, code, refreshToken, clientID, clientSecret, redirectURI string) (*TokenPair, *serrors.OAuth2Error) {
	switch grantType {
	case "authorization_code":
		return s.exchangeCode(ctx, code, clientID, clientSecret, redirectURI)
	case "refresh_token":
		return s.exchangeRefresh(ctx, refreshToken, clientID, clientSecret)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

func (s *OAuthService) exchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (*TokenPair, *serrors.OAuth2Error) {
	if _, oerr := s.authenticateClient(ctx, clientID, clientSecret); oerr != nil {
		return nil, oerr
	}

	item := s.codes.Get(code)
	if item == nil {
		return nil, serrors.NewInvalidGrant("unknown or expired authorization code")
	}
	// Single use, whether or not the rest of the exchange succeeds.
	s.codes.Delete(code)

	grant := item.Value()
	if grant.clientID != clientID {
		return nil, serrors.NewInvalidGrant("authorization code was issued to another client")
	}
	if grant.redirectURI != redirectURI {
		return nil, serrors.NewInvalidGrant("redirect_uri does not match the authorization request")
	}

	session, err := s.repo.GetOAuthSession(ctx, grant.oauthSessionID)
	if err != nil || session.IsRevoked {
		return nil, serrors.NewInvalidGrant("grant is no longer valid")
	}

	pair, err := s.tokens.Issue(ctx, session)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("code exchange failed")
		return nil, serrors.NewServerError("internal error")
	}
	return pair, nil
}

func (s *OAuthService) exchangeRefresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenPair, *serrors.OAuth2Error) {
	if _, oerr := s.authenticateClient(ctx, clientID, clientSecret); oerr != nil {
		return nil, oerr
	}

	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, serrors.ErrTokenRevoked), errors.Is(err, serrors.ErrSessionRevoked):
			return nil, serrors.NewInvalidGrant("refresh token has been revoked")
		case errors.Is(err, serrors.ErrTokenExpired):
			return nil, serrors.NewInvalidGrant("refresh token has expired")
		case errors.Is(err, serrors.ErrTokenMalformed):
			return nil, serrors.NewInvalidGrant("unknown refresh token")
		default:
			log.Error().Err(err).Str("client_id", clientID).Msg("refresh exchange failed")
			return nil, serrors.NewServerError("internal error")
		}
	}
	return pair, nil
}

// RevokeGrant withdraws the user's consent for a client and revokes the
// OAuth session bound to it.
func (s *OAuthService) RevokeGrant(ctx context.Context, userID, clientID string) error {
	if err := s.consents.RevokeConsent(ctx, userID, clientID); err != nil {
		return err
	}
	session, err := s.repo.GetOAuthSessionByUserClient(ctx, userID, clientID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.RevokeOAuthSession(ctx, session.ID); err != nil {
		return err
	}
	return s.repo.RevokeSessionTokens(ctx, session.ID)
}

// validate runs the request checks in their canonical order and loads the
// application and its group. Failures raised before the redirect URI check
// are rendered directly; everything after rides the vetted redirect.
func (s *OAuthService) validate(ctx context.Context, req *AuthorizeRequest) (*domain.Application, *domain.ApplicationGroup, *AuthorizeError) {
	app, err := s.repo.GetApplicationByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, nil, &AuthorizeError{Err: serrors.NewInvalidClient("unknown client_id")}
		}
		return nil, nil, &AuthorizeError{Err: serrors.NewServerError("internal error")}
	}
	if !app.Active {
		return nil, nil, &AuthorizeError{Err: serrors.NewUnauthorizedClient("application is not active")}
	}

	if !containsExact(app.RedirectURIs, req.RedirectURI) {
		return nil, nil, &AuthorizeError{Err: serrors.NewInvalidRedirectURI(req.RedirectURI)}
	}

	group, err := s.repo.GetApplicationGroup(ctx, app.GroupID)
	if err != nil {
		return nil, nil, redirectError(req, serrors.NewServerError("internal error"))
	}
	valid, _ := splitScopes(req.Scopes, group.AllowedScopes)
	if len(valid) == 0 {
		return nil, nil, redirectError(req, serrors.NewInvalidScope("none of the requested scopes are allowed"))
	}

	if req.ResponseType != "code" && req.ResponseType != "token" {
		return nil, nil, redirectError(req, serrors.NewUnsupportedResponseType(req.ResponseType))
	}

	return app, group, nil
}

// redirectError binds an OAuth error to the request's vetted redirect URI.
func redirectError(req *AuthorizeRequest, oerr *serrors.OAuth2Error) *AuthorizeError {
	return &AuthorizeError{Err: oerr, Redirect: errorRedirect(req.RedirectURI, req.State, oerr)}
}

func (s *OAuthService) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Application, *serrors.OAuth2Error) {
	app, err := s.repo.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}
	if !app.Active || app.ClientSecret != clientSecret {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}
	return app, nil
}

// splitScopes partitions the requested scopes into those the application
// group allows and those it does not. Order of the request is preserved.
func splitScopes(requested, allowed []string) (valid, invalid []string) {
	allow := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allow[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allow[s]; ok {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}
	return valid, invalid
}

func containsExact(uris []string, uri string) bool {
	for _, u := range uris {
		if u == uri {
			return true
		}
	}
	return false
}

func codeRedirect(redirectURI, state, code string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func implicitRedirect(redirectURI, state string, pair *TokenPair) string {
	frag := url.Values{}
	frag.Set("access_token", pair.AccessToken)
	frag.Set("token_type", pair.TokenType)
	frag.Set("expires_in", fmt.Sprintf("%d", pair.ExpiresIn))
	if state != "" {
		frag.Set("state", state)
	}
	return redirectURI + "#" + frag.Encode()
}

func errorRedirect(redirectURI, state string, oerr *serrors.OAuth2Error) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("error", oerr.Code)
	if oerr.Description != "" {
		q.Set("error_description", oerr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
