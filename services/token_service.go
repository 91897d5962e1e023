package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// TokenPair is the result of issuing or refreshing tokens for an OAuth session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// AccessClaims is the claim set carried by signed access tokens.
type AccessClaims struct {
	SessionID string   `json:"sid"`
	Scopes    []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints, verifies and rotates the token pairs bound to OAuth
// sessions. Access tokens are signed JWTs, refresh tokens are opaque
// single-use values.
type TokenService struct {
	repo       domain.OAuthRepository
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// NewTokenService creates a new TokenService.
func NewTokenService(repo domain.OAuthRepository, signingKey []byte, issuer string,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	return &TokenService{
		repo:       repo,
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue mints a new access/refresh token pair for the given OAuth session and
// persists both records.
func (s *TokenService) Issue(ctx context.Context, session *domain.OAuthSession) (*TokenPair, error) {
	now := s.now()
	jti := uuid.NewString()

	refresh := &domain.RefreshToken{
		ID:        uuid.NewString(),
		Value:     uuid.NewString(),
		SessionID: session.ID,
		Used:      false,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}

	claims := AccessClaims{
		SessionID: session.ID,
		Scopes:    session.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   session.UserID,
			Audience:  jwt.ClaimStrings{session.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	if err := s.repo.StoreRefreshToken(ctx, refresh); err != nil {
		return nil, err
	}

	access := &domain.AccessToken{
		ID:             jti,
		SessionID:      session.ID,
		RefreshTokenID: refresh.ID,
		Scopes:         session.Scopes,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.accessTTL),
	}
	if err := s.repo.StoreAccessToken(ctx, access); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  signed,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		RefreshToken: refresh.Value,
		Scope:        strings.Join(session.Scopes, " "),
	}, nil
}

// Verify parses and validates a signed access token and checks the backing
// records for revocation. It returns the claims on success.
func (s *TokenService) Verify(ctx context.Context, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, serrors.ErrTokenMalformed
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, serrors.ErrTokenExpired
		}
		return nil, serrors.ErrTokenMalformed
	}

	record, err := s.repo.GetAccessToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrTokenMalformed
		}
		return nil, err
	}
	if record.IsRevoked {
		return nil, serrors.ErrTokenRevoked
	}

	session, err := s.repo.GetOAuthSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrTokenRevoked
		}
		return nil, err
	}
	if session.IsRevoked {
		return nil, serrors.ErrTokenRevoked
	}

	return claims, nil
}

// Refresh rotates a refresh token: the presented value is atomically marked
// used and a successor pair is minted for the same OAuth session. Presenting
// an already-used value revokes the whole session and all of its tokens.
func (s *TokenService) Refresh(ctx context.Context, value string) (*TokenPair, error) {
	token, err := s.repo.ConsumeRefreshToken(ctx, value)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, s.classifyRefreshFailure(ctx, value)
		}
		return nil, err
	}

	session, err := s.repo.GetOAuthSession(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrTokenRevoked
		}
		return nil, err
	}
	if session.IsRevoked {
		return nil, serrors.ErrSessionRevoked
	}

	return s.Issue(ctx, session)
}

// classifyRefreshFailure distinguishes an unknown value from a replayed one.
// Replay of a consumed token means the value leaked, so the owning session
// and every token issued for it are revoked.
func (s *TokenService) classifyRefreshFailure(ctx context.Context, value string) error {
	token, err := s.repo.GetRefreshTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return serrors.ErrTokenMalformed
		}
		return err
	}

	if token.Used {
		log.Warn().
			Str("session_id", token.SessionID).
			Msg("refresh token replay detected, revoking session")

		if err := s.repo.RevokeOAuthSession(ctx, token.SessionID); err != nil {
			return err
		}
		if err := s.repo.RevokeSessionTokens(ctx, token.SessionID); err != nil {
			return err
		}

		return serrors.ErrTokenRevoked
	}

	return serrors.ErrTokenExpired
}
