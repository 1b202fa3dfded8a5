package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// CascadeResult reports what a completion run did.
type CascadeResult struct {
	ReportOptionIDs []uuid.UUID
	Completed       []uuid.UUID
	Skipped         []SkippedEntity
}

// CompletionCascade finishes wet-lab work for samples and opens the report
// options their dry-lab reporting runs on.
type CompletionCascade struct {
	refs     ReferenceProvider
	entities EntityRepository
	audit    AuditRecorder
}

// NewCompletionCascade creates a new CompletionCascade.
func NewCompletionCascade(refs ReferenceProvider, entities EntityRepository, audit AuditRecorder) *CompletionCascade {
	return &CompletionCascade{refs: refs, entities: entities, audit: audit}
}

// Complete runs inside tx. Samples of accessions that are no longer active are
// skipped. Running it again for an already completed sample creates nothing.
func (c *CompletionCascade) Complete(ctx context.Context, tx *gorm.DB, samples []*model.Sample, action string, actor string) (*CascadeResult, error) {
	result := &CascadeResult{
		ReportOptionIDs: []uuid.UUID{},
		Completed:       []uuid.UUID{},
		Skipped:         []SkippedEntity{},
	}
	if len(samples) == 0 {
		return result, nil
	}

	accessions, err := c.lockAccessions(ctx, tx, samples)
	if err != nil {
		return nil, err
	}

	seenOptions := make(map[uuid.UUID]struct{})
	for _, sample := range samples {
		accession, ok := accessions[sample.AccessionID]
		if !ok || !accession.IsOpen() {
			result.Skipped = append(result.Skipped, SkippedEntity{ID: sample.ID, Reason: "accession is not active"})
			continue
		}

		option, err := c.openReportOption(ctx, tx, sample, action, actor)
		if err != nil {
			if errors.Is(err, ErrReferenceNotFound) {
				slog.WarnContext(ctx, "no dry-lab step for sample", "sampleID", sample.ID, "error", err)
				result.Skipped = append(result.Skipped, SkippedEntity{ID: sample.ID, Reason: err.Error()})
				continue
			}
			return nil, err
		}

		if err := c.ensureDetail(ctx, tx, option.ID, sample.ID); err != nil {
			return nil, err
		}

		before := cloneState(sample.RoutingState)
		sample.Status = model.SampleStatusCompleted
		sample.PendingAction = nil
		sample.NextStepID = nil
		if err := c.entities.SaveEntityInTx(ctx, tx, sample); err != nil {
			return nil, err
		}
		if err := c.audit.Record(ctx, tx, sample, &before, action, actor); err != nil {
			return nil, err
		}

		result.Completed = append(result.Completed, sample.ID)
		if _, ok := seenOptions[option.ID]; !ok {
			seenOptions[option.ID] = struct{}{}
			result.ReportOptionIDs = append(result.ReportOptionIDs, option.ID)
		}
	}

	slog.InfoContext(ctx, "wet lab completed",
		"completed", len(result.Completed),
		"reportOptions", len(result.ReportOptionIDs),
		"skipped", len(result.Skipped))
	return result, nil
}

// lockAccessions locks the accessions of samples so concurrent completions of
// the same case cannot both open a report option.
func (c *CompletionCascade) lockAccessions(ctx context.Context, tx *gorm.DB, samples []*model.Sample) (map[uuid.UUID]model.Accession, error) {
	ids := make([]uuid.UUID, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.AccessionID)
	}

	var accessions []model.Accession
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sortedIDs(dedupeIDs(ids))).
		Order("id").
		Find(&accessions).Error; err != nil {
		return nil, fmt.Errorf("failed to lock accessions: %w", err)
	}

	byID := make(map[uuid.UUID]model.Accession, len(accessions))
	for _, a := range accessions {
		byID[a.ID] = a
	}
	return byID, nil
}

// openReportOption returns the open report option for the sample's
// (accession, root sample, test), creating and placing one when none exists.
func (c *CompletionCascade) openReportOption(ctx context.Context, tx *gorm.DB, sample *model.Sample, action string, actor string) (*model.ReportOption, error) {
	rootID := sample.RootID()

	var existing model.ReportOption
	err := tx.WithContext(ctx).
		Where("accession_id = ? AND root_sample_id = ? AND test_id = ? AND status = ?",
			sample.AccessionID, rootID, sample.TestID, model.ReportOptionStatusOpen).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up report option: %w", err)
	}

	scope := sample.Scope()
	pos, err := c.refs.FirstPosition(ctx, tx, scope, model.WorkflowTypeDryLab)
	if err != nil {
		return nil, err
	}
	workflow, err := c.refs.EffectiveWorkflow(ctx, tx, scope)
	if err != nil {
		return nil, err
	}
	state, err := placeAt(ctx, tx, c.refs, pos)
	if err != nil {
		return nil, err
	}

	option := &model.ReportOption{
		AccessionID:     sample.AccessionID,
		RootSampleID:    rootID,
		TestID:          sample.TestID,
		SampleTypeID:    sample.SampleTypeID,
		ContainerTypeID: sample.ContainerTypeID,
		WorkflowID:      scope.WorkflowID,
		Methodology:     workflow.Methodology,
		Status:          model.ReportOptionStatusOpen,
		RoutingState:    state,
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(option).Error; err != nil {
		return nil, fmt.Errorf("failed to create report option: %w", err)
	}
	if err := c.audit.Record(ctx, tx, option, nil, action, actor); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "report option opened",
		"reportOptionID", option.ID,
		"accessionID", option.AccessionID,
		"rootSampleID", rootID,
		"methodology", option.Methodology)
	return option, nil
}

func (c *CompletionCascade) ensureDetail(ctx context.Context, tx *gorm.DB, reportOptionID, sampleID uuid.UUID) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&model.ReportOptionDetail{}).
		Where("report_option_id = ? AND sample_id = ?", reportOptionID, sampleID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check report option detail: %w", err)
	}
	if count > 0 {
		return nil
	}

	detail := &model.ReportOptionDetail{ReportOptionID: reportOptionID, SampleID: sampleID}
	if err := tx.WithContext(ctx).Create(detail).Error; err != nil {
		return fmt.Errorf("failed to create report option detail: %w", err)
	}
	return nil
}
