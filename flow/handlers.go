package flow

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// stageHandler is the per-kind behavior contract. validate checks the
// submission's shape without side effects; apply performs the stage's
// effect and may reject with ErrInvalidCredentials or PolicyDeniedError.
type stageHandler interface {
	component(ex *Execution, stage *domain.Stage) Component
	validate(input map[string]string, stage *domain.Stage) *serrors.ValidationError
	apply(ctx context.Context, e *Executor, ex *Execution, stage *domain.Stage, input map[string]string) error
}

func stageHandlers() map[domain.StageKind]stageHandler {
	return map[domain.StageKind]stageHandler{
		domain.StageKindDeny:           denyHandler{},
		domain.StageKindPrompt:         promptHandler{},
		domain.StageKindIdentification: identificationHandler{},
		domain.StageKindPassword:       passwordHandler{},
		domain.StageKindConsent:        consentHandler{},
		domain.StageKindUserLogin:      userLoginHandler{},
		domain.StageKindUserLogout:     userLogoutHandler{},
		domain.StageKindUserWrite:      userWriteHandler{},
	}
}

type denyHandler struct{}

func (denyHandler) component(_ *Execution, stage *domain.Stage) Component {
	message := "access denied"
	if cfg, ok := stage.Config.(*domain.DenyConfig); ok && cfg.Message != "" {
		message = cfg.Message
	}
	return Component{Type: ComponentAccessDenied, Message: message}
}

func (denyHandler) validate(map[string]string, *domain.Stage) *serrors.ValidationError {
	return nil
}

func (h denyHandler) apply(_ context.Context, _ *Executor, ex *Execution, stage *domain.Stage, _ map[string]string) error {
	ex.denied = true
	ex.deniedMessage = h.component(ex, stage).Message
	ex.pending = nil
	ex.pendingUser = nil
	return nil
}

type promptHandler struct{}

func (promptHandler) config(stage *domain.Stage) *domain.PromptConfig {
	if cfg, ok := stage.Config.(*domain.PromptConfig); ok {
		return cfg
	}
	return &domain.PromptConfig{}
}

func (h promptHandler) component(_ *Execution, stage *domain.Stage) Component {
	return Component{Type: ComponentPrompt, Fields: h.config(stage).Fields}
}

func (h promptHandler) validate(input map[string]string, stage *domain.Stage) *serrors.ValidationError {
	for _, field := range h.config(stage).Fields {
		value, ok := input[field.Name]
		if !ok || value == "" {
			if field.Required {
				return serrors.NewFieldMissing(field.Name)
			}
			continue
		}
		if field.Type == "number" {
			if _, err := strconv.Atoi(value); err != nil {
				return serrors.NewFieldInvalidType(field.Name)
			}
		}
	}
	return nil
}

func (h promptHandler) apply(_ context.Context, _ *Executor, ex *Execution, stage *domain.Stage, input map[string]string) error {
	for _, field := range h.config(stage).Fields {
		if value, ok := input[field.Name]; ok {
			ex.fields[field.Name] = value
		}
	}
	return nil
}

type identificationHandler struct{}

func (identificationHandler) config(stage *domain.Stage) *domain.IdentificationConfig {
	if cfg, ok := stage.Config.(*domain.IdentificationConfig); ok {
		return cfg
	}
	return &domain.IdentificationConfig{UserFields: []domain.UserField{domain.UserFieldName}}
}

func (h identificationHandler) component(_ *Execution, stage *domain.Stage) Component {
	cfg := h.config(stage)
	return Component{
		Type:         ComponentIdentification,
		UserFields:   cfg.UserFields,
		WithPassword: cfg.PasswordStageSlug != "",
	}
}

func (h identificationHandler) validate(input map[string]string, stage *domain.Stage) *serrors.ValidationError {
	if input["uid"] == "" {
		return serrors.NewFieldMissing("uid")
	}
	if h.config(stage).PasswordStageSlug != "" && input["password"] == "" {
		return serrors.NewFieldMissing("password")
	}
	return nil
}

func (h identificationHandler) apply(ctx context.Context, e *Executor, ex *Execution, stage *domain.Stage, input map[string]string) error {
	cfg := h.config(stage)

	user, err := e.users.LookupByFields(ctx, input["uid"], cfg.UserFields)
	if err != nil {
		return err
	}
	if user == nil {
		// Indistinguishable from a wrong password.
		return serrors.ErrInvalidCredentials
	}

	authenticated := false
	if cfg.PasswordStageSlug != "" {
		if err := e.hasher.Verify(ctx, user.PasswordHash, input["password"]); err != nil {
			return serrors.ErrInvalidCredentials
		}
		authenticated = true
	}

	ex.pending = &domain.PendingUser{
		UID:           user.ID,
		Name:          user.Name,
		IsAdmin:       user.IsAdmin,
		Authenticated: authenticated,
	}
	ex.pendingUser = user
	return nil
}

type passwordHandler struct{}

func (passwordHandler) component(_ *Execution, stage *domain.Stage) Component {
	c := Component{Type: ComponentPassword}
	if cfg, ok := stage.Config.(*domain.PasswordConfig); ok {
		c.RecoveryURL = cfg.RecoveryURL
	}
	return c
}

func (passwordHandler) validate(input map[string]string, _ *domain.Stage) *serrors.ValidationError {
	if input["password"] == "" {
		return serrors.NewFieldMissing("password")
	}
	return nil
}

func (passwordHandler) apply(ctx context.Context, e *Executor, ex *Execution, _ *domain.Stage, input map[string]string) error {
	if ex.pending == nil || ex.pendingUser == nil {
		return serrors.ErrInvalidCredentials
	}
	if err := e.hasher.Verify(ctx, ex.pendingUser.PasswordHash, input["password"]); err != nil {
		return serrors.ErrInvalidCredentials
	}
	ex.pending.Authenticated = true
	return nil
}

type consentHandler struct{}

func (consentHandler) config(stage *domain.Stage) *domain.ConsentConfig {
	if cfg, ok := stage.Config.(*domain.ConsentConfig); ok {
		return cfg
	}
	return &domain.ConsentConfig{Mode: domain.ConsentModeAlways}
}

func (consentHandler) component(ex *Execution, _ *domain.Stage) Component {
	return Component{Type: ComponentConsent, Scopes: ex.Query.Scopes}
}

func (consentHandler) validate(input map[string]string, _ *domain.Stage) *serrors.ValidationError {
	switch input["consent"] {
	case "":
		return serrors.NewFieldMissing("consent")
	case "true":
		return nil
	default:
		return serrors.NewFieldInvalid("consent", "must be \"true\"")
	}
}

func (h consentHandler) apply(ctx context.Context, e *Executor, ex *Execution, stage *domain.Stage, _ map[string]string) error {
	user := ex.user()
	if user == nil || ex.Query.ClientID == "" {
		// Nothing durable to record, the approval lives in this run only.
		return nil
	}

	cfg := h.config(stage)
	consent := &domain.Consent{
		UserID:   user.ID,
		ClientID: ex.Query.ClientID,
		Scopes:   ex.Query.Scopes,
		Given:    true,
		Mode:     cfg.Mode,
	}
	if cfg.Mode == domain.ConsentModeUntil {
		expiry := e.now().Add(time.Duration(cfg.ExpireSeconds) * time.Second)
		consent.ExpiresAt = &expiry
	}
	return e.consents.UpsertConsent(ctx, consent)
}

type userLoginHandler struct{}

func (userLoginHandler) component(_ *Execution, _ *domain.Stage) Component {
	return Component{Type: ComponentRedirect}
}

func (userLoginHandler) validate(map[string]string, *domain.Stage) *serrors.ValidationError {
	return nil
}

func (userLoginHandler) apply(ctx context.Context, e *Executor, ex *Execution, _ *domain.Stage, _ map[string]string) error {
	if ex.pending == nil || !ex.pending.Authenticated {
		return &serrors.PolicyDeniedError{Internal: "user_login reached without an authenticated pending user"}
	}

	session, err := e.sessions.Create(ctx, ex.pending.UID, ex.RemoteAddr, ex.UserAgent)
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", ex.pending.UID).
		Str("flow", ex.Flow.Slug).
		Msg("user logged in")

	ex.SessionID = session.ID
	ex.Caller = ex.pendingUser
	ex.CallerSessionID = session.ID
	ex.pending = nil
	ex.pendingUser = nil
	return nil
}

type userLogoutHandler struct{}

func (userLogoutHandler) component(_ *Execution, _ *domain.Stage) Component {
	return Component{Type: ComponentRedirect}
}

func (userLogoutHandler) validate(map[string]string, *domain.Stage) *serrors.ValidationError {
	return nil
}

func (userLogoutHandler) apply(ctx context.Context, e *Executor, ex *Execution, _ *domain.Stage, _ map[string]string) error {
	if ex.CallerSessionID != "" {
		if err := e.sessions.Revoke(ctx, ex.CallerSessionID); err != nil {
			return err
		}
		log.Info().Str("flow", ex.Flow.Slug).Msg("user logged out")
	}
	ex.Caller = nil
	ex.CallerSessionID = ""
	return nil
}

type userWriteHandler struct{}

func (userWriteHandler) component(_ *Execution, _ *domain.Stage) Component {
	return Component{Type: ComponentRedirect}
}

func (userWriteHandler) validate(map[string]string, *domain.Stage) *serrors.ValidationError {
	return nil
}

// apply writes the collected prompt fields to the target user. With no
// user in the execution a new account is created from the fields, which
// is how enrollment flows provision users.
func (userWriteHandler) apply(ctx context.Context, e *Executor, ex *Execution, _ *domain.Stage, _ map[string]string) error {
	target := ex.user()
	if target == nil {
		return e.createUser(ctx, ex)
	}

	attrs := make(map[string]string, len(ex.fields))
	for k, v := range ex.fields {
		switch k {
		case "name", "email", "password":
		default:
			attrs[k] = v
		}
	}
	if email, ok := ex.fields["email"]; ok {
		target.Email = email
	}
	if password, ok := ex.fields["password"]; ok {
		hash, err := e.hasher.Hash(password)
		if err != nil {
			return err
		}
		target.PasswordHash = hash
		target.PasswordChangedAt = e.now()
		target.RequirePasswordReset = false
	}
	if err := e.users.UpdateUser(ctx, target); err != nil {
		return err
	}
	return e.users.WriteAttributes(ctx, target.ID, attrs)
}

// createUser provisions a user from the execution's collected fields.
func (e *Executor) createUser(ctx context.Context, ex *Execution) error {
	name := ex.fields["name"]
	if name == "" {
		return &serrors.PolicyDeniedError{Internal: "user_write reached without a user or a name field"}
	}

	user := &domain.User{
		ID:    uuid.NewString(),
		Name:  name,
		Email: ex.fields["email"],
	}
	if password, ok := ex.fields["password"]; ok {
		hash, err := e.hasher.Hash(password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		user.PasswordChangedAt = e.now()
	}

	attrs := make(map[string]string)
	for k, v := range ex.fields {
		switch k {
		case "name", "email", "password":
		default:
			attrs[k] = v
		}
	}
	user.Attributes = attrs

	if err := e.users.CreateUser(ctx, user); err != nil {
		return err
	}

	log.Info().Str("user_id", user.ID).Str("flow", ex.Flow.Slug).Msg("user enrolled")

	ex.pendingUser = user
	ex.pending = &domain.PendingUser{UID: user.ID, Name: user.Name, Authenticated: true}
	return nil
}
