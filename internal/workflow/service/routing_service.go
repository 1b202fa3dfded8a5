package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

const actionRoute = "route"

// RoutingService handles manual custody changes that bypass the action chain.
type RoutingService struct {
	db       *gorm.DB
	refs     ReferenceProvider
	entities EntityRepository
	audit    *RoutingAudit
}

// NewRoutingService creates a new RoutingService.
func NewRoutingService(db *gorm.DB, refs ReferenceProvider, entities EntityRepository, audit *RoutingAudit) *RoutingService {
	return &RoutingService{db: db, refs: refs, entities: entities, audit: audit}
}

// Route moves one entity to another step and/or hands it to another department
// or user. Completed and cancelled entities cannot be routed. Moving to an
// earlier step is only allowed onto a test workflow step that permits backward
// movement.
func (s *RoutingService) Route(ctx context.Context, kind model.EntityKind, id uuid.UUID, req *model.RouteEntityDTO, actor string) (model.Routable, error) {
	if req == nil || (req.StepID == nil && req.DepartmentID == nil && req.UserID == nil) {
		return nil, newValidationError(ErrInvalidRequest, "one of stepId, departmentId or userId is required")
	}

	var entity model.Routable
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.entities.LoadEntitiesInTx(ctx, tx, kind, []uuid.UUID{id})
		if err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				return &ValidationError{Err: err}
			}
			return err
		}
		entity = loaded[0]
		if err := requireActive(entity); err != nil {
			return err
		}
		state := entity.Routing()

		if req.StepID != nil {
			placed, err := s.placeManually(ctx, tx, entity, *req.StepID)
			if err != nil {
				return err
			}
			*state = placed
		}
		if req.DepartmentID != nil {
			state.CustodialDepartmentID = model.UUIDPtr(*req.DepartmentID)
		}
		if req.UserID != nil {
			state.CustodialUserID = optionalString(strings.TrimSpace(*req.UserID))
		}

		return s.audit.SaveWithAudit(ctx, tx, entity, actionRoute, actor)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "entity routed", "kind", kind, "id", id, "actor", actor)
	return entity, nil
}

func (s *RoutingService) placeManually(ctx context.Context, tx *gorm.DB, entity model.Routable, stepID uuid.UUID) (model.RoutingState, error) {
	target, err := s.refs.ResolvePosition(ctx, tx, entity.Scope(), stepID)
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) {
			return model.RoutingState{}, &ValidationError{Err: err}
		}
		return model.RoutingState{}, err
	}

	if current := entity.Routing().CurrentStepID; current != nil {
		from, err := s.refs.ResolvePosition(ctx, tx, entity.Scope(), *current)
		if err != nil && !errors.Is(err, ErrReferenceNotFound) {
			return model.RoutingState{}, err
		}
		if from != nil && target.StepNo < from.StepNo &&
			(target.Path != PathTestSpecific || !target.BackwardMovement) {
			return model.RoutingState{}, newValidationError(ErrBackwardMovement, "step %d to step %d", from.StepNo, target.StepNo)
		}
	}

	return placeAt(ctx, tx, s.refs, target)
}
