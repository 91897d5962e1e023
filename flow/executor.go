package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
	"github.com/gatehouse-id/gatehouse/internal/auth"
	"github.com/gatehouse-id/gatehouse/policy"
	"github.com/gatehouse-id/gatehouse/services"
)

const (
	// defaultStageTimeout applies to stages with no timeout of their own.
	defaultStageTimeout = 5 * time.Minute

	// maxDrainIterations bounds the non-interactive advance loop so a
	// misconfigured flow cannot spin the executor.
	maxDrainIterations = 40
)

// BeginOptions carries the per-request context an execution starts with.
type BeginOptions struct {
	Caller          *domain.User
	CallerSessionID string
	RemoteAddr      string
	UserAgent       string
	Query           Query
}

// Executor runs flow executions. Executions live in an in-memory arena
// keyed by an opaque id; an execution that outlives its current stage
// timeout is evicted and the client must restart the flow.
type Executor struct {
	flows    domain.FlowRepository
	users    *services.UserService
	sessions *services.SessionService
	consents domain.ConsentRepository
	hasher   auth.PasswordHasher

	arena    *ttlcache.Cache[string, *Execution]
	handlers map[domain.StageKind]stageHandler

	now func() time.Time
}

// NewExecutor creates a flow executor.
func NewExecutor(flows domain.FlowRepository, users *services.UserService,
	sessions *services.SessionService, consents domain.ConsentRepository,
	hasher auth.PasswordHasher,
) *Executor {
	arena := ttlcache.New(
		ttlcache.WithTTL[string, *Execution](defaultStageTimeout),
		ttlcache.WithDisableTouchOnHit[string, *Execution](),
	)
	go arena.Start()

	return &Executor{
		flows:    flows,
		users:    users,
		sessions: sessions,
		consents: consents,
		hasher:   hasher,
		arena:    arena,
		handlers: stageHandlers(),
		now:      time.Now,
	}
}

// Stop halts the arena's expiry loop.
func (e *Executor) Stop() {
	e.arena.Stop()
}

// Begin snapshots the flow and starts a new execution. Flow-level policy
// bindings are evaluated here; a failing binding rejects the start.
func (e *Executor) Begin(ctx context.Context, flow *domain.Flow, opts BeginOptions) (*Data, error) {
	ex := &Execution{
		ID:              uuid.NewString(),
		Flow:            flow,
		Query:           opts.Query,
		Caller:          opts.Caller,
		CallerSessionID: opts.CallerSessionID,
		RemoteAddr:      opts.RemoteAddr,
		UserAgent:       opts.UserAgent,
		fields:          make(map[string]string),
	}

	if err := e.snapshot(ctx, ex); err != nil {
		return nil, err
	}

	decision := policy.EvaluateBindings(flow.Bindings, ex.policyLookup, ex.policyContext(e.now(), ""))
	if !decision.Pass {
		log.Info().
			Str("flow", flow.Slug).
			Str("reason", decision.Message).
			Msg("flow start rejected by policy")
		return nil, &serrors.PolicyDeniedError{Internal: decision.Message}
	}

	if err := e.drain(ctx, ex); err != nil {
		return nil, err
	}

	e.touch(ex)
	return e.data(ex), nil
}

// View returns the current state of an execution without advancing it.
func (e *Executor) View(ctx context.Context, id string) (*Data, error) {
	ex, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return e.data(ex), nil
}

// Submit applies client input to the current stage. A concurrent
// submission on the same execution fails with ErrConflict; the cursor
// only ever moves forward.
func (e *Executor) Submit(ctx context.Context, id string, input map[string]string) (*Data, error) {
	ex, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if !ex.mu.TryLock() {
		return nil, serrors.ErrConflict
	}
	defer ex.mu.Unlock()

	if e.now().After(ex.expiresAt) {
		e.arena.Delete(ex.ID)
		return nil, serrors.ErrFlowExpired
	}
	if ex.terminal() {
		return e.data(ex), nil
	}

	entry := ex.currentEntry()
	stage, ok := ex.Stages[entry.StageSlug]
	if !ok {
		return nil, &serrors.PolicyDeniedError{Internal: "stage missing from snapshot: " + entry.StageSlug}
	}
	handler := e.handlers[stage.Kind]

	if verr := handler.validate(input, stage); verr != nil {
		data := e.data(ex)
		data.FieldError = verr
		return data, nil
	}

	pctx := ex.policyContext(e.now(), input["password"])
	if decision := policy.EvaluateBindings(entry.Bindings, ex.policyLookup, pctx); !decision.Pass {
		e.deny(ex, decision.Message)
		e.touch(ex)
		return e.data(ex), nil
	}

	if err := handler.apply(ctx, e, ex, stage, input); err != nil {
		var denied *serrors.PolicyDeniedError
		switch {
		case errors.Is(err, serrors.ErrInvalidCredentials):
			// Retryable. The cursor stays where it is and the payload is
			// identical for unknown users and wrong passwords.
			data := e.data(ex)
			data.Error = "invalid credentials"
			return data, nil
		case errors.As(err, &denied):
			e.deny(ex, denied.Internal)
			e.touch(ex)
			return e.data(ex), nil
		default:
			return nil, err
		}
	}

	if !ex.denied {
		ex.cursor++
		if err := e.drain(ctx, ex); err != nil {
			return nil, err
		}
	}

	e.touch(ex)
	return e.data(ex), nil
}

// snapshot loads every stage and policy the flow references into the
// execution.
func (e *Executor) snapshot(ctx context.Context, ex *Execution) error {
	slugs := make([]string, 0, len(ex.Flow.Entries))
	for _, entry := range ex.Flow.Entries {
		slugs = append(slugs, entry.StageSlug)
	}

	stages, err := e.flows.GetStagesBySlugs(ctx, slugs)
	if err != nil {
		return err
	}

	// Identification stages may fold in a password stage by slug.
	var extra []string
	for _, stage := range stages {
		if cfg, ok := stage.Config.(*domain.IdentificationConfig); ok && cfg.PasswordStageSlug != "" {
			if _, loaded := stages[cfg.PasswordStageSlug]; !loaded {
				extra = append(extra, cfg.PasswordStageSlug)
			}
		}
	}
	if len(extra) > 0 {
		more, err := e.flows.GetStagesBySlugs(ctx, extra)
		if err != nil {
			return err
		}
		for slug, stage := range more {
			stages[slug] = stage
		}
	}
	ex.Stages = stages

	ex.Policies = make(map[string]*domain.Policy)
	collect := func(bindings []domain.FlowBinding) error {
		for _, b := range bindings {
			if b.Kind != domain.BindingKindPolicy || b.PolicySlug == "" {
				continue
			}
			if _, ok := ex.Policies[b.PolicySlug]; ok {
				continue
			}
			p, err := e.flows.GetPolicyBySlug(ctx, b.PolicySlug)
			if err != nil {
				if errors.Is(err, serrors.ErrNotFound) {
					// Unknown policies fail closed at evaluation time.
					continue
				}
				return err
			}
			ex.Policies[b.PolicySlug] = p
		}
		return nil
	}
	if err := collect(ex.Flow.Bindings); err != nil {
		return err
	}
	for _, entry := range ex.Flow.Entries {
		if err := collect(entry.Bindings); err != nil {
			return err
		}
	}
	return nil
}

// drain advances past stages that need no client input: non-interactive
// stages are applied, consent stages whose consent is already satisfied
// are skipped, the end of the pipeline completes the execution.
func (e *Executor) drain(ctx context.Context, ex *Execution) error {
	for i := 0; i < maxDrainIterations; i++ {
		entry := ex.currentEntry()
		if entry == nil {
			ex.completed = true
			return nil
		}
		stage, ok := ex.Stages[entry.StageSlug]
		if !ok {
			e.deny(ex, "stage missing from snapshot: "+entry.StageSlug)
			return nil
		}

		if stage.Kind.RequiresInput() {
			if stage.Kind == domain.StageKindConsent && e.consentSatisfied(ctx, ex) {
				// A stored consent skips the stage but not its bindings.
				decision := policy.EvaluateBindings(entry.Bindings, ex.policyLookup, ex.policyContext(e.now(), ""))
				if !decision.Pass {
					e.deny(ex, decision.Message)
					return nil
				}
				ex.cursor++
				continue
			}
			return nil
		}

		decision := policy.EvaluateBindings(entry.Bindings, ex.policyLookup, ex.policyContext(e.now(), ""))
		if !decision.Pass {
			e.deny(ex, decision.Message)
			return nil
		}

		if err := e.handlers[stage.Kind].apply(ctx, e, ex, stage, nil); err != nil {
			var denied *serrors.PolicyDeniedError
			if errors.As(err, &denied) {
				e.deny(ex, denied.Internal)
				return nil
			}
			return err
		}
		if ex.denied {
			return nil
		}
		ex.cursor++
	}

	e.deny(ex, "flow did not settle within the iteration budget")
	return nil
}

// consentSatisfied reports whether a stored consent already covers the
// execution's pending grant.
func (e *Executor) consentSatisfied(ctx context.Context, ex *Execution) bool {
	user := ex.user()
	if user == nil || ex.Query.ClientID == "" {
		return false
	}
	consent, err := e.consents.GetConsent(ctx, user.ID, ex.Query.ClientID)
	if err != nil {
		return false
	}
	return consent.Satisfies(ex.Query.Scopes, e.now())
}

// deny moves the execution to its terminal denied state. The detail is
// logged; clients only ever see a generic message.
func (e *Executor) deny(ex *Execution, internal string) {
	log.Info().
		Str("execution_id", ex.ID).
		Str("flow", ex.Flow.Slug).
		Str("reason", internal).
		Msg("flow execution denied")
	ex.denied = true
	if ex.deniedMessage == "" {
		ex.deniedMessage = "access denied"
	}
	ex.pending = nil
	ex.pendingUser = nil
}

// lookup fetches a live execution from the arena.
func (e *Executor) lookup(id string) (*Execution, error) {
	item := e.arena.Get(id)
	if item == nil {
		return nil, serrors.ErrFlowExpired
	}
	return item.Value(), nil
}

// touch stores the execution with a TTL derived from the current stage's
// timeout, pushing its expiry forward after progress.
func (e *Executor) touch(ex *Execution) {
	ttl := defaultStageTimeout
	if entry := ex.currentEntry(); entry != nil && !ex.terminal() {
		if stage, ok := ex.Stages[entry.StageSlug]; ok && stage.Timeout > 0 {
			ttl = time.Duration(stage.Timeout) * time.Second
		}
	}
	ex.expiresAt = e.now().Add(ttl)
	e.arena.Set(ex.ID, ex, ttl)
}

// data renders the execution's current state for the client.
func (e *Executor) data(ex *Execution) *Data {
	data := &Data{
		ExecutionID: ex.ID,
		Flow: FlowInfo{
			Slug:        ex.Flow.Slug,
			Title:       ex.Flow.Title,
			Designation: ex.Flow.Designation,
		},
		SessionID: ex.SessionID,
	}
	if ex.pending != nil {
		data.PendingUser = ex.pending.Name
	}

	switch {
	case ex.denied:
		data.Component = Component{Type: ComponentAccessDenied, Message: ex.deniedMessage}
	case ex.completed:
		to := ex.Query.Next
		if to == "" {
			to = "/"
		}
		data.Component = Component{Type: ComponentRedirect, To: to}
	default:
		entry := ex.currentEntry()
		stage := ex.Stages[entry.StageSlug]
		data.Component = e.handlers[stage.Kind].component(ex, stage)
	}
	return data
}
