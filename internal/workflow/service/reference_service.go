package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// ResolutionPath says which reference table a position was resolved from.
type ResolutionPath string

const (
	// PathWorkflowOverride resolves through WorkflowStep using a sample-level workflow.
	PathWorkflowOverride ResolutionPath = "WORKFLOW_OVERRIDE"
	// PathTestSpecific resolves through TestWorkflowStep using the test's workflow.
	PathTestSpecific ResolutionPath = "TEST_SPECIFIC"
)

// StepPosition is a resolved place in a workflow. Key is the WorkflowStep ID on the
// override path and the TestWorkflowStep ID on the test-specific path; action maps
// hang off that key.
type StepPosition struct {
	Key              uuid.UUID
	Path             ResolutionPath
	WorkflowID       uuid.UUID
	StepID           uuid.UUID
	StepNo           int
	DepartmentID     *uuid.UUID
	WorkflowType     model.WorkflowType
	BackwardMovement bool
	Scope            model.RoutingScope
}

// ReferenceProvider answers read-only questions about workflow reference data.
// Lookups that find nothing return ErrReferenceNotFound unless documented otherwise.
type ReferenceProvider interface {
	ResolvePosition(ctx context.Context, tx *gorm.DB, scope model.RoutingScope, stepID uuid.UUID) (*StepPosition, error)
	// NextPosition returns nil when pos is the last step of its workflow type.
	NextPosition(ctx context.Context, tx *gorm.DB, pos *StepPosition) (*StepPosition, error)
	FirstPosition(ctx context.Context, tx *gorm.DB, scope model.RoutingScope, workflowType model.WorkflowType) (*StepPosition, error)
	ActionMaps(ctx context.Context, tx *gorm.DB, pos *StepPosition, action string) ([]model.TestWorkflowStepActionMap, error)
	// ActionMapAt and FirstActionMap return nil when no row exists.
	ActionMapAt(ctx context.Context, tx *gorm.DB, pos *StepPosition, sequence int) (*model.TestWorkflowStepActionMap, error)
	FirstActionMap(ctx context.Context, tx *gorm.DB, pos *StepPosition) (*model.TestWorkflowStepActionMap, error)
	EffectiveWorkflow(ctx context.Context, tx *gorm.DB, scope model.RoutingScope) (*model.Workflow, error)
}

// ReferenceService implements ReferenceProvider on top of gorm.
type ReferenceService struct {
	db *gorm.DB
}

// NewReferenceService creates a new ReferenceService.
func NewReferenceService(db *gorm.DB) *ReferenceService {
	return &ReferenceService{db: db}
}

func (s *ReferenceService) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// testWorkflowID returns the workflow a test routes through on the test-specific path.
func (s *ReferenceService) testWorkflowID(ctx context.Context, tx *gorm.DB, testID uuid.UUID) (uuid.UUID, error) {
	var test model.Test
	if err := s.conn(ctx, tx).First(&test, "id = ?", testID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, fmt.Errorf("%w: test %s", ErrReferenceNotFound, testID)
		}
		return uuid.Nil, fmt.Errorf("failed to retrieve test %s: %w", testID, err)
	}
	if test.WorkflowID == nil {
		return uuid.Nil, fmt.Errorf("%w: test %s has no workflow", ErrReferenceNotFound, testID)
	}
	return *test.WorkflowID, nil
}

// scopedTestSteps builds the query for the test-specific rows matching scope.
func (s *ReferenceService) scopedTestSteps(ctx context.Context, tx *gorm.DB, scope model.RoutingScope, workflowID uuid.UUID) *gorm.DB {
	return s.conn(ctx, tx).Model(&model.TestWorkflowStep{}).
		Where("test_id = ? AND workflow_id = ? AND sample_type_id = ? AND container_type_id = ?",
			scope.TestID, workflowID, scope.SampleTypeID, scope.ContainerTypeID)
}

func positionFromWorkflowStep(ws *model.WorkflowStep, scope model.RoutingScope) *StepPosition {
	return &StepPosition{
		Key:          ws.ID,
		Path:         PathWorkflowOverride,
		WorkflowID:   ws.WorkflowID,
		StepID:       ws.StepID,
		StepNo:       ws.StepNo,
		DepartmentID: ws.DepartmentID,
		WorkflowType: ws.WorkflowType,
		Scope:        scope,
	}
}

func positionFromTestStep(tws *model.TestWorkflowStep, scope model.RoutingScope) *StepPosition {
	return &StepPosition{
		Key:              tws.ID,
		Path:             PathTestSpecific,
		WorkflowID:       tws.WorkflowID,
		StepID:           tws.StepID,
		StepNo:           tws.StepNo,
		DepartmentID:     tws.DepartmentID,
		WorkflowType:     tws.WorkflowType,
		BackwardMovement: tws.BackwardMovement,
		Scope:            scope,
	}
}

// ResolvePosition finds where an entity with the given scope sits when it is at stepID.
// A workflow override in scope selects the WorkflowStep path; otherwise the
// TestWorkflowStep row for the test's workflow is used.
func (s *ReferenceService) ResolvePosition(ctx context.Context, tx *gorm.DB, scope model.RoutingScope, stepID uuid.UUID) (*StepPosition, error) {
	if scope.WorkflowID != nil {
		var ws model.WorkflowStep
		err := s.conn(ctx, tx).
			Where("workflow_id = ? AND step_id = ?", *scope.WorkflowID, stepID).
			First(&ws).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: step %s is not part of workflow %s", ErrReferenceNotFound, stepID, *scope.WorkflowID)
			}
			return nil, fmt.Errorf("failed to resolve workflow step: %w", err)
		}
		return positionFromWorkflowStep(&ws, scope), nil
	}

	workflowID, err := s.testWorkflowID(ctx, tx, scope.TestID)
	if err != nil {
		return nil, err
	}
	var tws model.TestWorkflowStep
	err = s.scopedTestSteps(ctx, tx, scope, workflowID).
		Where("step_id = ?", stepID).
		First(&tws).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no test workflow step for test %s at step %s", ErrReferenceNotFound, scope.TestID, stepID)
		}
		return nil, fmt.Errorf("failed to resolve test workflow step: %w", err)
	}
	return positionFromTestStep(&tws, scope), nil
}

// NextPosition returns the step with the smallest step_no above pos on the same
// path and workflow type.
func (s *ReferenceService) NextPosition(ctx context.Context, tx *gorm.DB, pos *StepPosition) (*StepPosition, error) {
	if pos == nil {
		return nil, fmt.Errorf("position cannot be nil")
	}

	switch pos.Path {
	case PathWorkflowOverride:
		var ws model.WorkflowStep
		err := s.conn(ctx, tx).
			Where("workflow_id = ? AND workflow_type = ? AND step_no > ?", pos.WorkflowID, pos.WorkflowType, pos.StepNo).
			Order("step_no ASC").
			First(&ws).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to retrieve next workflow step: %w", err)
		}
		return positionFromWorkflowStep(&ws, pos.Scope), nil

	case PathTestSpecific:
		var tws model.TestWorkflowStep
		err := s.scopedTestSteps(ctx, tx, pos.Scope, pos.WorkflowID).
			Where("workflow_type = ? AND step_no > ?", pos.WorkflowType, pos.StepNo).
			Order("step_no ASC").
			First(&tws).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to retrieve next test workflow step: %w", err)
		}
		return positionFromTestStep(&tws, pos.Scope), nil
	}

	return nil, fmt.Errorf("unknown resolution path %q", pos.Path)
}

// FirstPosition returns the lowest-numbered step of the given workflow type for scope.
func (s *ReferenceService) FirstPosition(ctx context.Context, tx *gorm.DB, scope model.RoutingScope, workflowType model.WorkflowType) (*StepPosition, error) {
	if scope.WorkflowID != nil {
		var ws model.WorkflowStep
		err := s.conn(ctx, tx).
			Where("workflow_id = ? AND workflow_type = ?", *scope.WorkflowID, workflowType).
			Order("step_no ASC").
			First(&ws).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: workflow %s has no %s step", ErrReferenceNotFound, *scope.WorkflowID, workflowType)
			}
			return nil, fmt.Errorf("failed to retrieve first workflow step: %w", err)
		}
		return positionFromWorkflowStep(&ws, scope), nil
	}

	workflowID, err := s.testWorkflowID(ctx, tx, scope.TestID)
	if err != nil {
		return nil, err
	}
	var tws model.TestWorkflowStep
	err = s.scopedTestSteps(ctx, tx, scope, workflowID).
		Where("workflow_type = ?", workflowType).
		Order("step_no ASC").
		First(&tws).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: test %s has no %s step", ErrReferenceNotFound, scope.TestID, workflowType)
		}
		return nil, fmt.Errorf("failed to retrieve first test workflow step: %w", err)
	}
	return positionFromTestStep(&tws, scope), nil
}

// actionMapsFor builds the query for the action maps hanging off pos.
func (s *ReferenceService) actionMapsFor(ctx context.Context, tx *gorm.DB, pos *StepPosition) *gorm.DB {
	q := s.conn(ctx, tx).Model(&model.TestWorkflowStepActionMap{})
	if pos.Path == PathWorkflowOverride {
		return q.Where("workflow_step_id = ?", pos.Key)
	}
	return q.Where("test_workflow_step_id = ?", pos.Key)
}

// ActionMaps returns the rows for action at pos, ordered by sequence.
func (s *ReferenceService) ActionMaps(ctx context.Context, tx *gorm.DB, pos *StepPosition, action string) ([]model.TestWorkflowStepActionMap, error) {
	var maps []model.TestWorkflowStepActionMap
	if err := s.actionMapsFor(ctx, tx, pos).
		Where("action = ?", action).
		Order("sequence ASC").
		Find(&maps).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve action maps for %s: %w", action, err)
	}
	return maps, nil
}

func (s *ReferenceService) ActionMapAt(ctx context.Context, tx *gorm.DB, pos *StepPosition, sequence int) (*model.TestWorkflowStepActionMap, error) {
	var m model.TestWorkflowStepActionMap
	err := s.actionMapsFor(ctx, tx, pos).
		Where("sequence = ?", sequence).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retrieve action map at sequence %d: %w", sequence, err)
	}
	return &m, nil
}

func (s *ReferenceService) FirstActionMap(ctx context.Context, tx *gorm.DB, pos *StepPosition) (*model.TestWorkflowStepActionMap, error) {
	var m model.TestWorkflowStepActionMap
	err := s.actionMapsFor(ctx, tx, pos).
		Order("sequence ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retrieve first action map: %w", err)
	}
	return &m, nil
}

// EffectiveWorkflow returns the override workflow when scope carries one, else the test's workflow.
func (s *ReferenceService) EffectiveWorkflow(ctx context.Context, tx *gorm.DB, scope model.RoutingScope) (*model.Workflow, error) {
	var workflowID uuid.UUID
	if scope.WorkflowID != nil {
		workflowID = *scope.WorkflowID
	} else {
		id, err := s.testWorkflowID(ctx, tx, scope.TestID)
		if err != nil {
			return nil, err
		}
		workflowID = id
	}

	var wf model.Workflow
	if err := s.conn(ctx, tx).First(&wf, "id = ?", workflowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: workflow %s", ErrReferenceNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to retrieve workflow %s: %w", workflowID, err)
	}
	return &wf, nil
}
