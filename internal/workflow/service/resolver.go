package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/collaborator"
	"github.com/OpenPathLab/lims/internal/config"
	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// RoutingSettings carries the tunables of the routing engine.
type RoutingSettings struct {
	// StrictResolution aborts a batch on the first entity without a step or action
	// mapping instead of skipping it.
	StrictResolution    bool
	DefaultSlideCount   int
	AccessionPrefix     string
	PharmaAccessionType string
}

// SettingsFromConfig derives RoutingSettings from the loaded configuration.
func SettingsFromConfig(cfg config.RoutingConfig) RoutingSettings {
	return RoutingSettings{
		StrictResolution:    cfg.StrictResolution,
		DefaultSlideCount:   cfg.DefaultSlideCount,
		AccessionPrefix:     cfg.AccessionPrefix,
		PharmaAccessionType: cfg.PharmaAccessionType,
	}
}

// Collaborators are the outbound side-effect clients used by action handlers.
type Collaborators struct {
	Labels  collaborator.LabelPrinter
	Mail    collaborator.Mailer
	Reports collaborator.ReportGenerator
	Async   collaborator.Runner
}

// ActionRequest asks the resolver to run DesiredAction on a batch of entities of one kind.
type ActionRequest struct {
	Kind          model.EntityKind
	IDs           []uuid.UUID
	DesiredAction string
	Actor         string
	Params        model.ActionParams
}

// SkippedEntity is an entity left untouched because it could not be resolved.
type SkippedEntity struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// ActionResult summarizes a committed batch.
type ActionResult struct {
	Method         model.ActionMethod    `json:"method"`
	Processed      []uuid.UUID           `json:"processed"`
	Skipped        []SkippedEntity       `json:"skipped"`
	CreatedSamples []uuid.UUID           `json:"createdSamples"`
	ReportOptions  []uuid.UUID           `json:"reportOptions"`
	Messages       []collaborator.Result `json:"messages"`
}

// ActionTarget is one entity resolved to a position and the action map row that matched.
type ActionTarget struct {
	Entity    model.Routable
	Position  *StepPosition
	ActionMap model.TestWorkflowStepActionMap
	// Before is the routing state as loaded, used as the audit "from" side.
	Before model.RoutingState
}

// ActionBatch is what a handler receives.
type ActionBatch struct {
	Request ActionRequest
	Method  model.ActionMethod
	Items   []*ActionTarget
}

// AfterCommitFunc runs once the routing transaction has committed.
type AfterCommitFunc func(ctx context.Context) []collaborator.Result

// ActionOutcome is what a handler reports back to the resolver.
type ActionOutcome struct {
	// ApplyPendingAction advances Targets (or every batch item when Targets is nil).
	ApplyPendingAction bool
	Targets            []*ActionTarget
	CreatedSamples     []uuid.UUID
	ReportOptions      []uuid.UUID
	// Skipped lists batch items the handler left untouched.
	Skipped            []SkippedEntity
	Messages           []collaborator.Result
	AfterCommit        []AfterCommitFunc
}

// ActionHandler executes one action method against a resolved batch inside the routing transaction.
type ActionHandler func(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error)

// StepResolver validates a batch, resolves its action method, dispatches it and
// advances every target to its next action or step.
type StepResolver struct {
	db        *gorm.DB
	refs      ReferenceProvider
	entities  EntityRepository
	audit     AuditRecorder
	sequences SequenceAllocator
	cascade   *CompletionCascade
	collab    Collaborators
	settings  RoutingSettings
	handlers  map[model.ActionMethod]ActionHandler
}

// NewStepResolver creates a new StepResolver with the built-in handler table.
func NewStepResolver(
	db *gorm.DB,
	refs ReferenceProvider,
	entities EntityRepository,
	audit AuditRecorder,
	sequences SequenceAllocator,
	collab Collaborators,
	settings RoutingSettings,
) *StepResolver {
	if settings.DefaultSlideCount < 1 {
		settings.DefaultSlideCount = 1
	}
	r := &StepResolver{
		db:        db,
		refs:      refs,
		entities:  entities,
		audit:     audit,
		sequences: sequences,
		cascade:   NewCompletionCascade(refs, entities, audit),
		collab:    collab,
		settings:  settings,
	}
	r.handlers = map[model.ActionMethod]ActionHandler{
		model.ActionMethodReceiveSample:     r.receiveSample,
		model.ActionMethodPerformGrossing:   r.advanceOnly,
		model.ActionMethodPerformMicrotomy:  r.performMicrotomy,
		model.ActionMethodSendToStaining:    r.advanceOnly,
		model.ActionMethodPerformStaining:   r.advanceOnly,
		model.ActionMethodSendToImaging:     r.advanceOnly,
		model.ActionMethodPerformImaging:    r.advanceOnly,
		model.ActionMethodPrintLabel:        r.printLabel,
		model.ActionMethodCompleteWetLab:    r.completeWetLab,
		model.ActionMethodAssignPathologist: r.assignPathologist,
		model.ActionMethodPrepareReport:     r.advanceOnly,
		model.ActionMethodSignOutReport:     r.signOutReport,
	}
	return r
}

func validateRequest(req *ActionRequest) error {
	if req.Kind != model.EntityKindSample && req.Kind != model.EntityKindReportOption {
		return newValidationError(ErrInvalidRequest, "unsupported entity kind %q", req.Kind)
	}
	if strings.TrimSpace(req.DesiredAction) == "" {
		return newValidationError(ErrInvalidRequest, "action is required")
	}
	if len(req.IDs) == 0 {
		return newValidationError(ErrInvalidRequest, "at least one id is required")
	}
	return nil
}

// Execute runs req in a single transaction. Collaborator side effects run after
// commit and surface as messages; they never roll back routing changes.
func (r *StepResolver) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var (
		result  *ActionResult
		outcome *ActionOutcome
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, outcome, err = r.executeInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, fn := range outcome.AfterCommit {
		result.Messages = append(result.Messages, fn(ctx)...)
	}

	slog.InfoContext(ctx, "action executed",
		"action", req.DesiredAction,
		"method", result.Method,
		"processed", len(result.Processed),
		"skipped", len(result.Skipped),
		"actor", req.Actor)
	return result, nil
}

// executeInTx does all database work of Execute against tx.
func (r *StepResolver) executeInTx(ctx context.Context, tx *gorm.DB, req ActionRequest) (*ActionResult, *ActionOutcome, error) {
	entities, err := r.entities.LoadEntitiesInTx(ctx, tx, req.Kind, req.IDs)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return nil, nil, &ValidationError{Err: err}
		}
		return nil, nil, err
	}

	for _, entity := range entities {
		if err := requireActive(entity); err != nil {
			return nil, nil, err
		}
		if !entity.Routing().IsPending(req.DesiredAction) {
			pending := "nothing"
			if p := entity.Routing().PendingAction; p != nil {
				pending = *p
			}
			return nil, nil, newValidationError(ErrNotPending, "%s %s is pending %s, not %s",
				entity.EntityKind(), entity.EntityID(), pending, req.DesiredAction)
		}
	}

	result := &ActionResult{
		Processed:      []uuid.UUID{},
		Skipped:        []SkippedEntity{},
		CreatedSamples: []uuid.UUID{},
		ReportOptions:  []uuid.UUID{},
		Messages:       []collaborator.Result{},
	}

	targets := make([]*ActionTarget, 0, len(entities))
	methods := make(map[model.ActionMethod]struct{})
	for _, entity := range entities {
		target, reason, err := r.resolveTarget(ctx, tx, entity, req.DesiredAction)
		if err != nil {
			return nil, nil, err
		}
		if target == nil {
			if r.settings.StrictResolution {
				return nil, nil, newValidationError(ErrUnresolvedEntity, "%s %s: %s", entity.EntityKind(), entity.EntityID(), reason)
			}
			slog.WarnContext(ctx, "skipping unresolved entity",
				"kind", entity.EntityKind(),
				"id", entity.EntityID(),
				"action", req.DesiredAction,
				"reason", reason)
			result.Skipped = append(result.Skipped, SkippedEntity{ID: entity.EntityID(), Reason: reason})
			continue
		}
		targets = append(targets, target)
		methods[target.ActionMap.ActionMethod] = struct{}{}
	}

	if len(methods) == 0 {
		return nil, nil, newValidationError(ErrNoActionResolved, "action %s", req.DesiredAction)
	}
	if len(methods) > 1 {
		names := make([]string, 0, len(methods))
		for m := range methods {
			names = append(names, string(m))
		}
		sort.Strings(names)
		return nil, nil, newValidationError(ErrMixedActionMethods, "action %s resolves to %s", req.DesiredAction, strings.Join(names, ", "))
	}

	method := targets[0].ActionMap.ActionMethod
	if !method.AppliesTo(req.Kind) {
		return nil, nil, newValidationError(ErrUnknownActionMethod, "method %s does not apply to %s", method, req.Kind)
	}
	handler, ok := r.handlers[method]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownActionMethod, method)
	}

	batch := &ActionBatch{Request: req, Method: method, Items: targets}
	outcome, err := handler(ctx, tx, batch)
	if err != nil {
		return nil, nil, err
	}

	if outcome.ApplyPendingAction {
		advancing := outcome.Targets
		if advancing == nil {
			advancing = batch.Items
		}
		for _, target := range advancing {
			if err := r.advance(ctx, tx, target, req.DesiredAction, req.Actor); err != nil {
				return nil, nil, err
			}
		}
	}

	result.Method = method
	skipped := make(map[uuid.UUID]struct{}, len(outcome.Skipped))
	for _, sk := range outcome.Skipped {
		skipped[sk.ID] = struct{}{}
		result.Skipped = append(result.Skipped, sk)
	}
	for _, target := range targets {
		if _, ok := skipped[target.Entity.EntityID()]; ok {
			continue
		}
		result.Processed = append(result.Processed, target.Entity.EntityID())
	}
	result.CreatedSamples = append(result.CreatedSamples, outcome.CreatedSamples...)
	result.ReportOptions = append(result.ReportOptions, outcome.ReportOptions...)
	result.Messages = append(result.Messages, outcome.Messages...)
	return result, outcome, nil
}

// requireActive rejects completed and cancelled entities. Their routing state is
// frozen even when a pending action is still recorded.
func requireActive(entity model.Routable) error {
	if entity.IsActive() {
		return nil
	}
	return newValidationError(ErrInactiveEntity, "%s %s", entity.EntityKind(), entity.EntityID())
}

// resolveTarget finds the position and action map for entity. A nil target with a
// reason means the entity could not be resolved.
func (r *StepResolver) resolveTarget(ctx context.Context, tx *gorm.DB, entity model.Routable, action string) (*ActionTarget, string, error) {
	state := entity.Routing()
	if state.CurrentStepID == nil {
		return nil, "entity has no current step", nil
	}

	pos, err := r.refs.ResolvePosition(ctx, tx, entity.Scope(), *state.CurrentStepID)
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) {
			return nil, err.Error(), nil
		}
		return nil, "", err
	}

	maps, err := r.refs.ActionMaps(ctx, tx, pos, action)
	if err != nil {
		return nil, "", err
	}
	if len(maps) == 0 {
		return nil, fmt.Sprintf("no action map for %s at step %s", action, pos.StepID), nil
	}
	if len(maps) > 1 {
		// Two rows for the same action at one step would make the method ambiguous.
		for _, m := range maps[1:] {
			if m.ActionMethod != maps[0].ActionMethod {
				return nil, "", newValidationError(ErrMixedActionMethods, "%s %s has conflicting maps for %s",
					entity.EntityKind(), entity.EntityID(), action)
			}
		}
	}

	return &ActionTarget{
		Entity:    entity,
		Position:  pos,
		ActionMap: maps[0],
		Before:    cloneState(*state),
	}, "", nil
}

// advance moves target to the next action at its step, or to the first action of
// the next step of the same workflow type, or clears pending when nothing follows.
func (r *StepResolver) advance(ctx context.Context, tx *gorm.DB, target *ActionTarget, action string, actor string) error {
	state := target.Entity.Routing()

	next, err := r.refs.ActionMapAt(ctx, tx, target.Position, target.ActionMap.Sequence+1)
	if err != nil {
		return err
	}

	switch {
	case next != nil:
		state.PendingAction = model.StringPtr(next.Action)

	default:
		nextPos, err := r.refs.NextPosition(ctx, tx, target.Position)
		if err != nil {
			return err
		}
		if nextPos == nil {
			state.PendingAction = nil
			state.NextStepID = nil
			break
		}
		placed, err := placeAt(ctx, tx, r.refs, nextPos)
		if err != nil {
			return err
		}
		*state = placed
	}

	if err := r.entities.SaveEntityInTx(ctx, tx, target.Entity); err != nil {
		return err
	}
	return r.audit.Record(ctx, tx, target.Entity, &target.Before, action, actor)
}

// placeAt returns the routing state of an entity that has just arrived at pos:
// custody goes to the step's department and no user.
func placeAt(ctx context.Context, tx *gorm.DB, refs ReferenceProvider, pos *StepPosition) (model.RoutingState, error) {
	state := model.RoutingState{
		CurrentStepID: model.UUIDPtr(pos.StepID),
	}
	if pos.DepartmentID != nil {
		state.CustodialDepartmentID = model.UUIDPtr(*pos.DepartmentID)
	}

	after, err := refs.NextPosition(ctx, tx, pos)
	if err != nil {
		return state, err
	}
	if after != nil {
		state.NextStepID = model.UUIDPtr(after.StepID)
	}

	first, err := refs.FirstActionMap(ctx, tx, pos)
	if err != nil {
		return state, err
	}
	if first != nil {
		state.PendingAction = model.StringPtr(first.Action)
	}
	return state, nil
}

// cloneState deep-copies rs so later mutations of the entity do not leak into it.
func cloneState(rs model.RoutingState) model.RoutingState {
	out := model.RoutingState{}
	if rs.CurrentStepID != nil {
		out.CurrentStepID = model.UUIDPtr(*rs.CurrentStepID)
	}
	if rs.NextStepID != nil {
		out.NextStepID = model.UUIDPtr(*rs.NextStepID)
	}
	if rs.PendingAction != nil {
		out.PendingAction = model.StringPtr(*rs.PendingAction)
	}
	if rs.CustodialDepartmentID != nil {
		out.CustodialDepartmentID = model.UUIDPtr(*rs.CustodialDepartmentID)
	}
	if rs.CustodialUserID != nil {
		out.CustodialUserID = model.StringPtr(*rs.CustodialUserID)
	}
	return out
}
