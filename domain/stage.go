package domain

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// StageKind discriminates the behavior of a stage.
type StageKind string

const (
	StageKindDeny           StageKind = "deny"
	StageKindPrompt         StageKind = "prompt"
	StageKindIdentification StageKind = "identification"
	StageKindUserLogin      StageKind = "user_login"
	StageKindUserLogout     StageKind = "user_logout"
	StageKindUserWrite      StageKind = "user_write"
	StageKindPassword       StageKind = "password"
	StageKindConsent        StageKind = "consent"
)

// RequiresInput reports whether the stage waits for a client submission.
// deny, user_login, user_logout and user_write run server side and are
// drained by the executor without a round trip.
func (k StageKind) RequiresInput() bool {
	switch k {
	case StageKindDeny, StageKindUserLogin, StageKindUserLogout, StageKindUserWrite:
		return false
	default:
		return true
	}
}

// UserField names an accepted identifier for the identification stage.
type UserField string

const (
	UserFieldEmail UserField = "email"
	UserFieldName  UserField = "name"
	UserFieldUUID  UserField = "uuid"
)

// ConsentMode controls when the consent stage re-prompts.
type ConsentMode string

const (
	// ConsentModeAlways prompts on every pass.
	ConsentModeAlways ConsentMode = "always"
	// ConsentModeOnce persists the grant and skips future prompts until revoked.
	ConsentModeOnce ConsentMode = "once"
	// ConsentModeUntil re-prompts after a stored expiry epoch.
	ConsentModeUntil ConsentMode = "until"
)

// StageConfig is the kind-specific configuration of a stage. Exactly one
// concrete config type exists per stage kind that carries configuration;
// kinds without configuration (user_login, user_logout, user_write) have
// a nil config.
type StageConfig interface {
	stageConfig()
}

// DenyConfig configures the terminal deny stage.
type DenyConfig struct {
	Message string `bson:"message"`
}

// PromptField is a single field collected by a prompt stage.
type PromptField struct {
	Name     string `bson:"name"`
	Label    string `bson:"label"`
	Type     string `bson:"type"` // text, email, number, hidden
	Required bool   `bson:"required"`
}

// PromptConfig configures a prompt stage.
type PromptConfig struct {
	Fields []PromptField `bson:"fields"`
}

// IdentificationConfig configures an identification stage.
type IdentificationConfig struct {
	UserFields []UserField `bson:"user_fields"`
	// PasswordStageSlug, when set, folds a password stage into the same
	// submission so identifier and password arrive together.
	PasswordStageSlug string `bson:"password_stage_slug,omitempty"`
}

// PasswordConfig configures a password stage.
type PasswordConfig struct {
	// RecoveryURL is exposed to the client only when configured.
	RecoveryURL string `bson:"recovery_url,omitempty"`
}

// ConsentConfig configures a consent stage.
type ConsentConfig struct {
	Mode ConsentMode `bson:"mode"`
	// ExpireSeconds applies to ConsentModeUntil.
	ExpireSeconds int64 `bson:"expire_seconds,omitempty"`
}

func (DenyConfig) stageConfig()           {}
func (PromptConfig) stageConfig()         {}
func (IdentificationConfig) stageConfig() {}
func (PasswordConfig) stageConfig()       {}
func (ConsentConfig) stageConfig()        {}

// Stage is a single step in a flow with a kind-specific behavior and an
// idle timeout in seconds.
type Stage struct {
	ID      string      `bson:"_id,omitempty"`
	Slug    string      `bson:"slug"`
	Kind    StageKind   `bson:"kind"`
	Timeout int32       `bson:"timeout"`
	Config  StageConfig `bson:"config,omitempty"`
}

// rawStage mirrors Stage with the config left undecoded so UnmarshalBSON
// can pick the concrete type from the kind discriminator.
type rawStage struct {
	ID      string    `bson:"_id,omitempty"`
	Slug    string    `bson:"slug"`
	Kind    StageKind `bson:"kind"`
	Timeout int32     `bson:"timeout"`
	Config  bson.Raw  `bson:"config,omitempty"`
}

// UnmarshalBSON decodes the tagged stage document, selecting the config
// variant that matches the stage kind.
func (s *Stage) UnmarshalBSON(data []byte) error {
	var raw rawStage
	if err := bson.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Slug = raw.Slug
	s.Kind = raw.Kind
	s.Timeout = raw.Timeout
	s.Config = nil
	if len(raw.Config) == 0 {
		return nil
	}
	var cfg StageConfig
	switch raw.Kind {
	case StageKindDeny:
		cfg = &DenyConfig{}
	case StageKindPrompt:
		cfg = &PromptConfig{}
	case StageKindIdentification:
		cfg = &IdentificationConfig{}
	case StageKindPassword:
		cfg = &PasswordConfig{}
	case StageKindConsent:
		cfg = &ConsentConfig{}
	case StageKindUserLogin, StageKindUserLogout, StageKindUserWrite:
		return nil
	default:
		return fmt.Errorf("unknown stage kind %q", raw.Kind)
	}
	if err := bson.Unmarshal(raw.Config, cfg); err != nil {
		return fmt.Errorf("decode %s stage config: %w", raw.Kind, err)
	}
	s.Config = cfg
	return nil
}
