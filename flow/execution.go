package flow

import (
	"sync"
	"time"

	"github.com/gatehouse-id/gatehouse/domain"
	"github.com/gatehouse-id/gatehouse/policy"
)

// Query carries the request parameters an execution was started with.
// For authorization flows ClientID and Scopes identify the pending grant;
// Next is where the browser goes after completion.
type Query struct {
	ClientID string
	Scopes   []string
	Next     string
}

// Execution is the server-side state of one flow run. The flow, its stages
// and its policies are snapshotted at begin time so configuration changes
// never affect runs already in flight.
type Execution struct {
	ID       string
	Flow     *domain.Flow
	Stages   map[string]*domain.Stage
	Policies map[string]*domain.Policy
	Query    Query

	// Caller identity at begin time, from the browser session if any.
	Caller          *domain.User
	CallerSessionID string
	RemoteAddr      string
	UserAgent       string

	// mu serializes submissions. Submit uses TryLock so a second
	// concurrent submission fails fast instead of queueing.
	mu sync.Mutex

	cursor        int
	completed     bool
	denied        bool
	deniedMessage string

	pending     *domain.PendingUser
	pendingUser *domain.User
	fields      map[string]string

	// SessionID of the browser session created by a user_login stage.
	SessionID string

	expiresAt time.Time
}

// currentEntry returns the entry at the cursor, or nil past the end.
func (ex *Execution) currentEntry() *domain.FlowEntry {
	if ex.cursor < 0 || ex.cursor >= len(ex.Flow.Entries) {
		return nil
	}
	return &ex.Flow.Entries[ex.cursor]
}

// terminal reports whether the execution can make no further progress.
func (ex *Execution) terminal() bool {
	return ex.completed || ex.denied
}

// user returns the identity policies should see: the pending user once
// identification ran, otherwise the caller.
func (ex *Execution) user() *domain.User {
	if ex.pendingUser != nil {
		return ex.pendingUser
	}
	return ex.Caller
}

// policyContext builds the whitelisted view of this execution for policy
// evaluation. The candidate password, when part of the current submission,
// is passed through transiently.
func (ex *Execution) policyContext(now time.Time, password string) *policy.Context {
	return &policy.Context{
		Now:           now,
		FlowSlug:      ex.Flow.Slug,
		Designation:   ex.Flow.Designation,
		User:          ex.user(),
		Pending:       ex.pending != nil,
		Authenticated: ex.pending != nil && ex.pending.Authenticated,
		Fields:        ex.fields,
		Password:      password,
	}
}

// policyLookup resolves policy slugs against the snapshot.
func (ex *Execution) policyLookup(slug string) (*domain.Policy, bool) {
	p, ok := ex.Policies[slug]
	return p, ok
}
