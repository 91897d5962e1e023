package domain

// FlowDesignation names the authentication-family use case a flow implements.
type FlowDesignation string

const (
	FlowDesignationInvalidation   FlowDesignation = "invalidation"
	FlowDesignationAuthentication FlowDesignation = "authentication"
	FlowDesignationAuthorization  FlowDesignation = "authorization"
	FlowDesignationEnrollment     FlowDesignation = "enrollment"
	FlowDesignationRecovery       FlowDesignation = "recovery"
	FlowDesignationUnenrollment   FlowDesignation = "unenrollment"
	FlowDesignationConfiguration  FlowDesignation = "configuration"
)

// AuthenticationRequirement gates who may start a flow.
type AuthenticationRequirement string

const (
	AuthenticationRequired  AuthenticationRequirement = "required"
	AuthenticationNone      AuthenticationRequirement = "none"
	AuthenticationSuperuser AuthenticationRequirement = "superuser"
	AuthenticationIgnored   AuthenticationRequirement = "ignored"
)

// Flow is a named, ordered configuration of stages. Identity is immutable;
// admin tooling mutates flows out of band.
type Flow struct {
	ID             string                    `bson:"_id,omitempty"`
	Slug           string                    `bson:"slug"`
	Title          string                    `bson:"title"`
	Designation    FlowDesignation           `bson:"designation"`
	Authentication AuthenticationRequirement `bson:"authentication"`
	Bindings       []FlowBinding             `bson:"bindings,omitempty"`
	Entries        []FlowEntry               `bson:"entries"`
}

// FlowEntry places a stage at a position in the flow's pipeline.
// Ordering is unique per flow.
type FlowEntry struct {
	Ordering  int32         `bson:"ordering"`
	StageSlug string        `bson:"stage_slug"`
	Bindings  []FlowBinding `bson:"bindings,omitempty"`
}

// BindingKind discriminates what a flow binding matches against.
type BindingKind string

const (
	BindingKindPolicy BindingKind = "policy"
	BindingKindUser   BindingKind = "user"
	BindingKindGroup  BindingKind = "group"
)

// FlowBinding attaches a policy, user or group condition to a flow or flow
// entry. Disabled bindings are skipped entirely; Negate inverts the
// binding's individual decision before aggregation.
type FlowBinding struct {
	Kind       BindingKind `bson:"kind"`
	PolicySlug string      `bson:"policy_slug,omitempty"`
	UserID     string      `bson:"user_id,omitempty"`
	GroupID    string      `bson:"group_id,omitempty"`
	Ordering   int32       `bson:"ordering"`
	Enabled    bool        `bson:"enabled"`
	Negate     bool        `bson:"negate"`
}
