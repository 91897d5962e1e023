package mongodb

const (
	UsersCollection         = "users"
	SessionsCollection      = "sessions"
	FlowsCollection         = "flows"
	StagesCollection        = "stages"
	PoliciesCollection      = "policies"
	TenantsCollection       = "tenants"
	ApplicationsCollection  = "applications"
	AppGroupsCollection     = "application_groups"
	OAuthSessionsCollection = "oauth_sessions"
	RefreshTokensCollection = "refresh_tokens"
	AccessTokensCollection  = "access_tokens"
	ConsentsCollection      = "consents"
)
