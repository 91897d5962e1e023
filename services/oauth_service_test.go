package services

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

func newTestOAuthService(t *testing.T) (*OAuthService, *fakeOAuthRepo, *fakeConsentRepo) {
	t.Helper()
	repo := newFakeOAuthRepo()
	consents := newFakeConsentRepo()
	tokens := newTestTokenService(repo)
	svc := NewOAuthService(repo, consents, tokens)
	t.Cleanup(func() { svc.codes.Stop() })

	repo.groups["group-1"] = &domain.ApplicationGroup{
		ID:            "group-1",
		Name:          "default",
		AllowedScopes: []string{"openid", "profile", "email"},
	}
	repo.apps["client-1"] = &domain.Application{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Name:         "Demo App",
		GroupID:      "group-1",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Active:       true,
		ConsentMode:  domain.ConsentModeOnce,
	}
	return svc, repo, consents
}

func validRequest() *AuthorizeRequest {
	return &AuthorizeRequest{
		ClientID:     "client-1",
		RedirectURI:  "https://app.example.com/callback",
		ResponseType: "code",
		State:        "xyz",
		Scopes:       []string{"openid", "profile"},
	}
}

func testUser() *domain.User {
	return &domain.User{ID: "user-1", Name: "alice"}
}

func TestCheckValidRequest(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)

	result, oerr := svc.Check(context.Background(), validRequest(), testUser())
	require.Nil(t, oerr)
	assert.Equal(t, "Demo App", result.AppName)
	assert.Equal(t, []string{"openid", "profile"}, result.Scopes)
	assert.Empty(t, result.InvalidScopes)
	assert.True(t, result.ConsentRequired)
}

func TestCheckReportsUnknownScopes(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)

	req := validRequest()
	req.Scopes = []string{"openid", "payments"}
	result, oerr := svc.Check(context.Background(), req, testUser())
	require.Nil(t, oerr)
	assert.Equal(t, []string{"openid"}, result.Scopes)
	assert.Equal(t, []string{"payments"}, result.InvalidScopes)
}

func TestValidationOrder(t *testing.T) {
	svc, repo, _ := newTestOAuthService(t)

	tests := []struct {
		name     string
		mutate   func(req *AuthorizeRequest)
		wantCode string
	}{
		{
			name:     "unknown client",
			mutate:   func(req *AuthorizeRequest) { req.ClientID = "nope" },
			wantCode: serrors.InvalidClient,
		},
		{
			name:     "bad redirect uri",
			mutate:   func(req *AuthorizeRequest) { req.RedirectURI = "https://evil.example.com/cb" },
			wantCode: serrors.InvalidRedirectURI,
		},
		{
			name:     "no valid scopes",
			mutate:   func(req *AuthorizeRequest) { req.Scopes = []string{"payments"} },
			wantCode: serrors.InvalidScope,
		},
		{
			name:     "bad response type",
			mutate:   func(req *AuthorizeRequest) { req.ResponseType = "device_code" },
			wantCode: serrors.UnsupportedResponseType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			_, aerr := svc.Check(context.Background(), req, testUser())
			require.NotNil(t, aerr)
			assert.Equal(t, tt.wantCode, aerr.Err.Code)
		})
	}

	t.Run("inactive client", func(t *testing.T) {
		repo.apps["client-1"].Active = false
		defer func() { repo.apps["client-1"].Active = true }()
		_, aerr := svc.Check(context.Background(), validRequest(), testUser())
		require.NotNil(t, aerr)
		assert.Equal(t, serrors.UnauthorizedClient, aerr.Err.Code)
	})

	t.Run("redirect uri must match exactly", func(t *testing.T) {
		req := validRequest()
		req.RedirectURI = "https://app.example.com/callback/extra"
		_, aerr := svc.Check(context.Background(), req, testUser())
		require.NotNil(t, aerr)
		assert.Equal(t, serrors.InvalidRedirectURI, aerr.Err.Code)
	})
}

func TestValidationErrorDelivery(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)

	t.Run("errors before the redirect check render directly", func(t *testing.T) {
		req := validRequest()
		req.RedirectURI = "https://evil.example.com/cb"
		_, aerr := svc.Check(context.Background(), req, testUser())
		require.NotNil(t, aerr)
		assert.Empty(t, aerr.Redirect)
	})

	t.Run("errors after the redirect check ride the redirect", func(t *testing.T) {
		req := validRequest()
		req.ResponseType = "device_code"
		_, aerr := svc.Check(context.Background(), req, testUser())
		require.NotNil(t, aerr)
		require.NotEmpty(t, aerr.Redirect)

		u, err := url.Parse(aerr.Redirect)
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", u.Scheme+"://"+u.Host+u.Path)
		assert.Equal(t, "unsupported_response_type", u.Query().Get("error"))
		assert.Equal(t, "xyz", u.Query().Get("state"))
	})

	t.Run("scope errors ride the redirect too", func(t *testing.T) {
		req := validRequest()
		req.Scopes = []string{"payments"}
		result := svc.Authorize(context.Background(), req, testUser(), "browser-1")
		require.NotNil(t, result.Err)
		require.NotEmpty(t, result.Err.Redirect)

		u, err := url.Parse(result.Err.Redirect)
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", u.Query().Get("error"))
	})
}

func TestAuthorizeCodeFlowAndExchange(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)
	req := validRequest()

	result := svc.Authorize(context.Background(), req, testUser(), "browser-1")
	require.Nil(t, result.Err)
	require.NotEmpty(t, result.Redirect)

	u, err := url.Parse(result.Redirect)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", u.Query().Get("state"))

	pair, oerr := svc.Exchange(context.Background(), "authorization_code",
		code, "", "client-1", "secret-1", req.RedirectURI)
	require.Nil(t, oerr)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// Codes are single use.
	_, oerr = svc.Exchange(context.Background(), "authorization_code",
		code, "", "client-1", "secret-1", req.RedirectURI)
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
}

func TestExchangeRejectsWrongClient(t *testing.T) {
	svc, repo, _ := newTestOAuthService(t)
	repo.apps["client-2"] = &domain.Application{
		ClientID:     "client-2",
		ClientSecret: "secret-2",
		Name:         "Other App",
		GroupID:      "group-1",
		RedirectURIs: []string{"https://other.example.com/cb"},
		Active:       true,
	}

	result := svc.Authorize(context.Background(), validRequest(), testUser(), "browser-1")
	require.Nil(t, result.Err)
	u, _ := url.Parse(result.Redirect)
	code := u.Query().Get("code")

	_, oerr := svc.Exchange(context.Background(), "authorization_code",
		code, "", "client-2", "secret-2", "https://app.example.com/callback")
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
}

func TestExchangeBadClientSecret(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)

	_, oerr := svc.Exchange(context.Background(), "authorization_code",
		"whatever", "", "client-1", "wrong", "https://app.example.com/callback")
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidClient, oerr.Code)
}

func TestExchangeRefreshGrant(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)
	req := validRequest()

	result := svc.Authorize(context.Background(), req, testUser(), "browser-1")
	require.Nil(t, result.Err)
	u, _ := url.Parse(result.Redirect)
	pair, oerr := svc.Exchange(context.Background(), "authorization_code",
		u.Query().Get("code"), "", "client-1", "secret-1", req.RedirectURI)
	require.Nil(t, oerr)

	next, oerr := svc.Exchange(context.Background(), "refresh_token",
		"", pair.RefreshToken, "client-1", "secret-1", "")
	require.Nil(t, oerr)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, oerr = svc.Exchange(context.Background(), "refresh_token",
		"", pair.RefreshToken, "client-1", "secret-1", "")
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
}

func TestAuthorizeImplicitFlow(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)
	req := validRequest()
	req.ResponseType = "token"

	result := svc.Authorize(context.Background(), req, testUser(), "browser-1")
	require.Nil(t, result.Err)
	require.NotNil(t, result.Granted)
	require.Contains(t, result.Redirect, "#")

	frag := result.Redirect[strings.Index(result.Redirect, "#")+1:]
	values, err := url.ParseQuery(frag)
	require.NoError(t, err)
	assert.Equal(t, result.Granted.AccessToken, values.Get("access_token"))
	assert.Equal(t, "Bearer", values.Get("token_type"))
	assert.Equal(t, "xyz", values.Get("state"))
}

func TestDenyRedirectsWithError(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)

	result := svc.Deny(context.Background(), validRequest())
	require.Nil(t, result.Err)
	u, err := url.Parse(result.Redirect)
	require.NoError(t, err)
	assert.Equal(t, "access_denied", u.Query().Get("error"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestConsentOncePromptsOnlyFirstTime(t *testing.T) {
	svc, _, _ := newTestOAuthService(t)
	req := validRequest()
	user := testUser()

	before, oerr := svc.Check(context.Background(), req, user)
	require.Nil(t, oerr)
	assert.True(t, before.ConsentRequired)

	result := svc.Authorize(context.Background(), req, user, "browser-1")
	require.Nil(t, result.Err)

	after, oerr := svc.Check(context.Background(), req, user)
	require.Nil(t, oerr)
	assert.False(t, after.ConsentRequired)
}

func TestConsentAlwaysPromptsEveryTime(t *testing.T) {
	svc, repo, _ := newTestOAuthService(t)
	repo.apps["client-1"].ConsentMode = domain.ConsentModeAlways
	req := validRequest()
	user := testUser()

	result := svc.Authorize(context.Background(), req, user, "browser-1")
	require.Nil(t, result.Err)

	after, oerr := svc.Check(context.Background(), req, user)
	require.Nil(t, oerr)
	assert.True(t, after.ConsentRequired)
}

func TestConsentUntilExpires(t *testing.T) {
	svc, repo, _ := newTestOAuthService(t)
	repo.apps["client-1"].ConsentMode = domain.ConsentModeUntil
	repo.apps["client-1"].ConsentExpireSeconds = 3600
	req := validRequest()
	user := testUser()

	result := svc.Authorize(context.Background(), req, user, "browser-1")
	require.Nil(t, result.Err)

	fresh, oerr := svc.Check(context.Background(), req, user)
	require.Nil(t, oerr)
	assert.False(t, fresh.ConsentRequired)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stale, oerr := svc.Check(context.Background(), req, user)
	require.Nil(t, oerr)
	assert.True(t, stale.ConsentRequired)
}

func TestRevokeGrant(t *testing.T) {
	svc, repo, consents := newTestOAuthService(t)
	req := validRequest()
	user := testUser()

	result := svc.Authorize(context.Background(), req, user, "browser-1")
	require.Nil(t, result.Err)

	require.NoError(t, svc.RevokeGrant(context.Background(), user.ID, "client-1"))

	consent, err := consents.GetConsent(context.Background(), user.ID, "client-1")
	require.NoError(t, err)
	assert.False(t, consent.Given)

	session, err := repo.GetOAuthSessionByUserClient(context.Background(), user.ID, "client-1")
	require.NoError(t, err)
	assert.True(t, session.IsRevoked)
}
