package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPathLab/lims/internal/workflow/model"
	"github.com/OpenPathLab/lims/utils"
)

// EntityRepository loads and persists routable entities inside a caller-owned transaction.
type EntityRepository interface {
	// LoadEntitiesInTx returns the entities in the order of the de-duplicated ids,
	// locked for update. A missing id yields ErrEntityNotFound.
	LoadEntitiesInTx(ctx context.Context, tx *gorm.DB, kind model.EntityKind, ids []uuid.UUID) ([]model.Routable, error)
	SaveEntityInTx(ctx context.Context, tx *gorm.DB, entity model.Routable) error
	CreateSamplesInTx(ctx context.Context, tx *gorm.DB, samples []*model.Sample) error
}

// EntityService implements EntityRepository and the read-side queries for samples and report options.
type EntityService struct {
	db *gorm.DB
}

// NewEntityService creates a new EntityService.
func NewEntityService(db *gorm.DB) *EntityService {
	return &EntityService{db: db}
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// sortedIDs returns a copy of ids in a stable order so concurrent batches lock rows
// in the same sequence.
func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (s *EntityService) LoadEntitiesInTx(ctx context.Context, tx *gorm.DB, kind model.EntityKind, ids []uuid.UUID) ([]model.Routable, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return []model.Routable{}, nil
	}

	byID := make(map[uuid.UUID]model.Routable, len(ids))
	query := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})

	switch kind {
	case model.EntityKindSample:
		var samples []model.Sample
		if err := query.
			Where("id IN ?", sortedIDs(ids)).
			Order("id").
			Find(&samples).Error; err != nil {
			return nil, fmt.Errorf("failed to load samples: %w", err)
		}
		if err := s.attachRootSamples(ctx, tx, samples); err != nil {
			return nil, err
		}
		for i := range samples {
			byID[samples[i].ID] = &samples[i]
		}

	case model.EntityKindReportOption:
		var options []model.ReportOption
		if err := query.
			Where("id IN ?", sortedIDs(ids)).
			Order("id").
			Find(&options).Error; err != nil {
			return nil, fmt.Errorf("failed to load report options: %w", err)
		}
		for i := range options {
			byID[options[i].ID] = &options[i]
		}

	default:
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}

	entities := make([]model.Routable, 0, len(ids))
	for _, id := range ids {
		entity, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, kind, id)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// attachRootSamples loads the root sample of every derived sample so Scope can
// inherit the root's workflow override.
func (s *EntityService) attachRootSamples(ctx context.Context, tx *gorm.DB, samples []model.Sample) error {
	rootIDs := make([]uuid.UUID, 0)
	for _, sample := range samples {
		if sample.RootSampleID != nil {
			rootIDs = append(rootIDs, *sample.RootSampleID)
		}
	}
	if len(rootIDs) == 0 {
		return nil
	}

	var roots []model.Sample
	if err := tx.WithContext(ctx).Where("id IN ?", dedupeIDs(rootIDs)).Find(&roots).Error; err != nil {
		return fmt.Errorf("failed to load root samples: %w", err)
	}
	rootByID := make(map[uuid.UUID]*model.Sample, len(roots))
	for i := range roots {
		rootByID[roots[i].ID] = &roots[i]
	}
	for i := range samples {
		if samples[i].RootSampleID != nil {
			samples[i].RootSample = rootByID[*samples[i].RootSampleID]
		}
	}
	return nil
}

func (s *EntityService) SaveEntityInTx(ctx context.Context, tx *gorm.DB, entity model.Routable) error {
	if err := tx.WithContext(ctx).Omit(clause.Associations).Save(entity).Error; err != nil {
		return fmt.Errorf("failed to save %s %s: %w", entity.EntityKind(), entity.EntityID(), err)
	}
	return nil
}

func (s *EntityService) CreateSamplesInTx(ctx context.Context, tx *gorm.DB, samples []*model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(samples).Error; err != nil {
		return fmt.Errorf("failed to create samples: %w", err)
	}
	return nil
}

// GetSampleByID retrieves a sample by its ID.
func (s *EntityService) GetSampleByID(ctx context.Context, sampleID uuid.UUID) (*model.Sample, error) {
	var sample model.Sample
	if err := s.db.WithContext(ctx).First(&sample, "id = ?", sampleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sample %s", ErrEntityNotFound, sampleID)
		}
		return nil, fmt.Errorf("failed to retrieve sample %s: %w", sampleID, err)
	}
	return &sample, nil
}

// GetReportOptionByID retrieves a report option with its details.
func (s *EntityService) GetReportOptionByID(ctx context.Context, reportOptionID uuid.UUID) (*model.ReportOption, error) {
	var option model.ReportOption
	if err := s.db.WithContext(ctx).Preload("Details").First(&option, "id = ?", reportOptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: report option %s", ErrEntityNotFound, reportOptionID)
		}
		return nil, fmt.Errorf("failed to retrieve report option %s: %w", reportOptionID, err)
	}
	return &option, nil
}

// ListSamples returns active samples, optionally filtered by pending action, newest first.
func (s *EntityService) ListSamples(ctx context.Context, pendingAction *string, offset *int, limit *int) (*model.SampleListResult, error) {
	query := s.db.WithContext(ctx).Model(&model.Sample{}).Where("status = ?", model.SampleStatusActive)
	if pendingAction != nil && *pendingAction != "" {
		query = query.Where("pending_action = ?", *pendingAction)
	}
	query = query.Session(&gorm.Session{})

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}

	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)
	var samples []model.Sample
	if err := query.
		Order("created_at DESC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve samples: %w", err)
	}

	return &model.SampleListResult{
		TotalCount: totalCount,
		Items:      samples,
		Offset:     finalOffset,
		Limit:      finalLimit,
	}, nil
}

// ListReportOptions returns open report options, optionally filtered by pending action.
func (s *EntityService) ListReportOptions(ctx context.Context, pendingAction *string, offset *int, limit *int) (*model.ReportOptionListResult, error) {
	query := s.db.WithContext(ctx).Model(&model.ReportOption{}).Where("status = ?", model.ReportOptionStatusOpen)
	if pendingAction != nil && *pendingAction != "" {
		query = query.Where("pending_action = ?", *pendingAction)
	}
	query = query.Session(&gorm.Session{})

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count report options: %w", err)
	}

	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)
	var options []model.ReportOption
	if err := query.
		Order("created_at DESC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&options).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve report options: %w", err)
	}

	return &model.ReportOptionListResult{
		TotalCount: totalCount,
		Items:      options,
		Offset:     finalOffset,
		Limit:      finalLimit,
	}, nil
}
