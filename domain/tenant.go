package domain

// Tenant scopes flows to a host. Exactly one tenant is the default and
// serves hosts with no tenant of their own.
type Tenant struct {
	ID      string `bson:"_id,omitempty"`
	Host    string `bson:"host"` // unique
	Default bool   `bson:"default"`
	Title   string `bson:"title"`
	Logo    string `bson:"logo,omitempty"`
	Favicon string `bson:"favicon,omitempty"`

	InvalidationFlow   string `bson:"invalidation_flow,omitempty"`
	AuthenticationFlow string `bson:"authentication_flow,omitempty"`
	AuthorizationFlow  string `bson:"authorization_flow,omitempty"`
	EnrollmentFlow     string `bson:"enrollment_flow,omitempty"`
	RecoveryFlow       string `bson:"recovery_flow,omitempty"`
	UnenrollmentFlow   string `bson:"unenrollment_flow,omitempty"`
	ConfigurationFlow  string `bson:"configuration_flow,omitempty"`
}

// FlowSlug returns the tenant's flow slug for a designation, or "".
func (t *Tenant) FlowSlug(designation FlowDesignation) string {
	switch designation {
	case FlowDesignationInvalidation:
		return t.InvalidationFlow
	case FlowDesignationAuthentication:
		return t.AuthenticationFlow
	case FlowDesignationAuthorization:
		return t.AuthorizationFlow
	case FlowDesignationEnrollment:
		return t.EnrollmentFlow
	case FlowDesignationRecovery:
		return t.RecoveryFlow
	case FlowDesignationUnenrollment:
		return t.UnenrollmentFlow
	case FlowDesignationConfiguration:
		return t.ConfigurationFlow
	default:
		return ""
	}
}
