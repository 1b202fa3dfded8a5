package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPathLab/lims/internal/workflow/model"
	"github.com/OpenPathLab/lims/utils"
)

// AuditRecorder appends routing audit rows.
type AuditRecorder interface {
	// Record writes a row when the step, department or user of entity differs from
	// before. A nil before marks an initial placement.
	Record(ctx context.Context, tx *gorm.DB, entity model.Routable, before *model.RoutingState, action string, actor string) error
}

// RoutingAudit writes and reads the append-only RoutingInfo trail.
type RoutingAudit struct {
	db       *gorm.DB
	entities EntityRepository
}

// NewRoutingAudit creates a new RoutingAudit.
func NewRoutingAudit(db *gorm.DB, entities EntityRepository) *RoutingAudit {
	return &RoutingAudit{db: db, entities: entities}
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// custodyChanged reports whether anything an auditor cares about moved.
func custodyChanged(before, after *model.RoutingState) bool {
	if before == nil {
		return true
	}
	return !sameUUID(before.CurrentStepID, after.CurrentStepID) ||
		!sameUUID(before.CustodialDepartmentID, after.CustodialDepartmentID) ||
		!sameString(before.CustodialUserID, after.CustodialUserID)
}

func (a *RoutingAudit) Record(ctx context.Context, tx *gorm.DB, entity model.Routable, before *model.RoutingState, action string, actor string) error {
	after := entity.Routing()
	if !custodyChanged(before, after) {
		return nil
	}

	row := &model.RoutingInfo{
		EntityKind:     entity.EntityKind(),
		ToStepID:       after.CurrentStepID,
		ToDepartmentID: after.CustodialDepartmentID,
		ToUserID:       after.CustodialUserID,
		Action:         optionalString(action),
		PerformedBy:    optionalString(actor),
	}
	if before != nil {
		row.FromStepID = before.CurrentStepID
		row.FromDepartmentID = before.CustodialDepartmentID
		row.FromUserID = before.CustodialUserID
	}

	id := entity.EntityID()
	switch entity.EntityKind() {
	case model.EntityKindSample:
		row.SampleID = &id
	case model.EntityKindReportOption:
		row.ReportOptionID = &id
	default:
		return fmt.Errorf("unsupported entity kind %q", entity.EntityKind())
	}

	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to record routing info for %s %s: %w", entity.EntityKind(), id, err)
	}
	return nil
}

// lockedState reads the persisted routing state of entity under a row lock.
func (a *RoutingAudit) lockedState(ctx context.Context, tx *gorm.DB, entity model.Routable) (*model.RoutingState, error) {
	query := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})

	var (
		state model.RoutingState
		err   error
	)
	switch entity.EntityKind() {
	case model.EntityKindSample:
		var current model.Sample
		err = query.First(&current, "id = ?", entity.EntityID()).Error
		state = current.RoutingState
	case model.EntityKindReportOption:
		var current model.ReportOption
		err = query.First(&current, "id = ?", entity.EntityID()).Error
		state = current.RoutingState
	default:
		return nil, fmt.Errorf("unsupported entity kind %q", entity.EntityKind())
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, entity.EntityKind(), entity.EntityID())
		}
		return nil, fmt.Errorf("failed to lock %s %s: %w", entity.EntityKind(), entity.EntityID(), err)
	}
	return &state, nil
}

// SaveWithAudit persists entity and records the difference against the stored row.
// It is the path for direct edits that bypass the resolver.
func (a *RoutingAudit) SaveWithAudit(ctx context.Context, tx *gorm.DB, entity model.Routable, action string, actor string) error {
	before, err := a.lockedState(ctx, tx, entity)
	if err != nil {
		return err
	}
	if err := a.entities.SaveEntityInTx(ctx, tx, entity); err != nil {
		return err
	}
	return a.Record(ctx, tx, entity, before, action, actor)
}

// History returns the audit rows of one entity, oldest first.
func (a *RoutingAudit) History(ctx context.Context, kind model.EntityKind, entityID uuid.UUID, offset *int, limit *int) (*model.RoutingHistoryResult, error) {
	var column string
	switch kind {
	case model.EntityKindSample:
		column = "sample_id"
	case model.EntityKindReportOption:
		column = "report_option_id"
	default:
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}

	query := a.db.WithContext(ctx).Model(&model.RoutingInfo{}).Where(column+" = ?", entityID).Session(&gorm.Session{})

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count routing history: %w", err)
	}

	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)
	var rows []model.RoutingInfo
	if err := query.
		Order("created_at ASC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve routing history: %w", err)
	}

	items := make([]model.RoutingInfoResponseDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, model.RoutingInfoResponseDTO{
			ID:               row.ID,
			FromStepID:       row.FromStepID,
			ToStepID:         row.ToStepID,
			FromDepartmentID: row.FromDepartmentID,
			ToDepartmentID:   row.ToDepartmentID,
			FromUserID:       row.FromUserID,
			ToUserID:         row.ToUserID,
			Action:           row.Action,
			PerformedBy:      row.PerformedBy,
			CreatedAt:        row.CreatedAt,
		})
	}

	return &model.RoutingHistoryResult{
		TotalCount: totalCount,
		Items:      items,
		Offset:     finalOffset,
		Limit:      finalLimit,
	}, nil
}
