package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPathLab/lims/internal/collaborator"
	"github.com/OpenPathLab/lims/internal/workflow/model"
)

const actionAccession = "accession"

// AccessionService registers cases and their samples and handles cancellation.
type AccessionService struct {
	db        *gorm.DB
	refs      ReferenceProvider
	entities  EntityRepository
	audit     AuditRecorder
	sequences SequenceAllocator
	collab    Collaborators
	settings  RoutingSettings
	validate  *validator.Validate
	now       func() time.Time
}

// NewAccessionService creates a new AccessionService.
func NewAccessionService(
	db *gorm.DB,
	refs ReferenceProvider,
	entities EntityRepository,
	audit AuditRecorder,
	sequences SequenceAllocator,
	collab Collaborators,
	settings RoutingSettings,
) *AccessionService {
	return &AccessionService{
		db:        db,
		refs:      refs,
		entities:  entities,
		audit:     audit,
		sequences: sequences,
		collab:    collab,
		settings:  settings,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// accessionPrefix yields e.g. "SP2026-".
func (s *AccessionService) accessionPrefix() string {
	return fmt.Sprintf("%s%d-", s.settings.AccessionPrefix, s.now().UTC().Year())
}

// CreateAccession allocates an accession number, creates the root samples and
// places each at the first wet-lab step of its workflow.
func (s *AccessionService) CreateAccession(ctx context.Context, req *model.CreateAccessionDTO, actor string) (*model.Accession, error) {
	if req == nil {
		return nil, newValidationError(ErrInvalidRequest, "create request cannot be nil")
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, newValidationError(ErrInvalidRequest, "%s", err.Error())
	}

	var accession *model.Accession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accessionNo, err := s.sequences.NextCode(ctx, tx, s.accessionPrefix(), SequenceModelAccession, 6)
		if err != nil {
			return err
		}

		accession = &model.Accession{
			AccessionNo:   accessionNo,
			AccessionType: req.AccessionType,
			SubjectRef:    req.SubjectRef,
			NotifyEmail:   req.NotifyEmail,
			Status:        model.AccessionStatusActive,
			CreatedBy:     optionalString(actor),
		}
		if err := tx.WithContext(ctx).Omit(clause.Associations).Create(accession).Error; err != nil {
			return fmt.Errorf("failed to create accession: %w", err)
		}

		samples := make([]*model.Sample, 0, len(req.Samples))
		for i, dto := range req.Samples {
			code, err := s.sequences.NextCode(ctx, tx, accessionNo+"-", SequenceModelSample, 0)
			if err != nil {
				return err
			}
			sample := &model.Sample{
				AccessionID:     accession.ID,
				Code:            code,
				TestID:          dto.TestID,
				SampleTypeID:    dto.SampleTypeID,
				ContainerTypeID: dto.ContainerTypeID,
				WorkflowID:      dto.WorkflowID,
				Status:          model.SampleStatusActive,
			}

			pos, err := s.refs.FirstPosition(ctx, tx, sample.Scope(), model.WorkflowTypeWetLab)
			if err != nil {
				if errors.Is(err, ErrReferenceNotFound) {
					return newValidationError(ErrReferenceNotFound, "sample %d: %v", i+1, err)
				}
				return err
			}
			state, err := placeAt(ctx, tx, s.refs, pos)
			if err != nil {
				return err
			}
			sample.RoutingState = state
			samples = append(samples, sample)
		}

		if err := s.entities.CreateSamplesInTx(ctx, tx, samples); err != nil {
			return err
		}
		for _, sample := range samples {
			if err := s.audit.Record(ctx, tx, sample, nil, actionAccession, actor); err != nil {
				return err
			}
			accession.Samples = append(accession.Samples, *sample)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "accession created",
		"accessionID", accession.ID,
		"accessionNo", accession.AccessionNo,
		"samples", len(accession.Samples),
		"actor", actor)

	s.afterAccession(accession)
	return accession, nil
}

// afterAccession queues the best-effort side effects of a new accession.
func (s *AccessionService) afterAccession(accession *model.Accession) {
	if s.collab.Async == nil {
		return
	}

	if s.collab.Labels != nil && len(accession.Samples) > 0 {
		labels := make([]collaborator.Label, 0, len(accession.Samples))
		for _, sample := range accession.Samples {
			labels = append(labels, collaborator.Label{
				SampleID:    sample.ID,
				Code:        sample.Code,
				AccessionNo: accession.AccessionNo,
			})
		}
		s.collab.Async.Go("print-labels", func(ctx context.Context) error {
			return s.collab.Labels.PrintLabels(ctx, labels)
		})
	}

	if s.collab.Mail != nil && s.isPharma(accession) && accession.NotifyEmail != nil {
		mail := collaborator.MailData{
			To:      []string{*accession.NotifyEmail},
			Subject: fmt.Sprintf("Accession %s received", accession.AccessionNo),
			Body: fmt.Sprintf("%d sample(s) for subject %s were accessioned as %s.",
				len(accession.Samples), accession.SubjectRef, accession.AccessionNo),
			Meta: map[string]any{"accessionId": accession.ID.String()},
		}
		s.collab.Async.Go("mail-accession", func(ctx context.Context) error {
			return s.collab.Mail.Send(ctx, mail)
		})
	}
}

func (s *AccessionService) isPharma(accession *model.Accession) bool {
	return s.settings.PharmaAccessionType != "" &&
		strings.EqualFold(accession.AccessionType, s.settings.PharmaAccessionType)
}

// GetAccession retrieves an accession with its samples.
func (s *AccessionService) GetAccession(ctx context.Context, accessionID uuid.UUID) (*model.Accession, error) {
	var accession model.Accession
	err := s.db.WithContext(ctx).
		Preload("Samples", func(db *gorm.DB) *gorm.DB {
			return db.Order("code ASC")
		}).
		First(&accession, "id = ?", accessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: accession %s", ErrEntityNotFound, accessionID)
		}
		return nil, fmt.Errorf("failed to retrieve accession: %w", err)
	}
	return &accession, nil
}

// cancelledState clears everything that would keep an entity on a worklist.
func cancelledState(rs model.RoutingState) model.RoutingState {
	out := cloneState(rs)
	out.PendingAction = nil
	out.NextStepID = nil
	return out
}

// CancelAccession soft-cancels an accession, its active samples and its open
// report options. Cancelling a cancelled accession is a no-op.
func (s *AccessionService) CancelAccession(ctx context.Context, accessionID uuid.UUID, actor string) (*model.Accession, error) {
	var accession model.Accession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&accession, "id = ?", accessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newValidationError(ErrEntityNotFound, "accession %s", accessionID)
			}
			return fmt.Errorf("failed to lock accession: %w", err)
		}

		switch accession.Status {
		case model.AccessionStatusCancelled:
			return nil
		case model.AccessionStatusCompleted:
			return newValidationError(ErrInvalidRequest, "accession %s is already completed", accession.AccessionNo)
		}

		accession.Status = model.AccessionStatusCancelled
		if err := tx.WithContext(ctx).Omit(clause.Associations).Save(&accession).Error; err != nil {
			return fmt.Errorf("failed to cancel accession: %w", err)
		}

		if err := tx.WithContext(ctx).Model(&model.Sample{}).
			Where("accession_id = ? AND status = ?", accession.ID, model.SampleStatusActive).
			Updates(map[string]any{
				"status":         model.SampleStatusCancelled,
				"pending_action": nil,
				"next_step_id":   nil,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel samples: %w", err)
		}

		return s.cancelReportOptions(ctx, tx, "accession_id = ?", accession.ID)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "accession cancelled", "accessionID", accession.ID, "actor", actor)
	return &accession, nil
}

func (s *AccessionService) cancelReportOptions(ctx context.Context, tx *gorm.DB, where string, args ...any) error {
	if err := tx.WithContext(ctx).Model(&model.ReportOption{}).
		Where(where, args...).
		Where("status = ?", model.ReportOptionStatusOpen).
		Updates(map[string]any{
			"status":         model.ReportOptionStatusCancelled,
			"pending_action": nil,
			"next_step_id":   nil,
		}).Error; err != nil {
		return fmt.Errorf("failed to cancel report options: %w", err)
	}
	return nil
}

// checkCancellable allows active samples, and sectioned accession samples whose
// derived samples are still in progress.
func (s *AccessionService) checkCancellable(ctx context.Context, tx *gorm.DB, sample *model.Sample) error {
	if sample.Status == model.SampleStatusActive {
		return nil
	}
	if sample.Status == model.SampleStatusCompleted && sample.RootSampleID == nil {
		var derived int64
		if err := tx.WithContext(ctx).Model(&model.Sample{}).
			Where("root_sample_id = ? AND status = ?", sample.ID, model.SampleStatusActive).
			Count(&derived).Error; err != nil {
			return fmt.Errorf("failed to count derived samples: %w", err)
		}
		if derived > 0 {
			return nil
		}
	}
	return newValidationError(ErrInvalidRequest, "sample %s is %s", sample.Code, strings.ToLower(string(sample.Status)))
}

// CancelSample soft-cancels one active sample. Cancelling an accession sample
// also cancels the samples derived from it and the report options built on it.
func (s *AccessionService) CancelSample(ctx context.Context, sampleID uuid.UUID, actor string) (*model.Sample, error) {
	var sample *model.Sample
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entities, err := s.entities.LoadEntitiesInTx(ctx, tx, model.EntityKindSample, []uuid.UUID{sampleID})
		if err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				return &ValidationError{Err: err}
			}
			return err
		}
		sample = entities[0].(*model.Sample)

		if err := s.checkCancellable(ctx, tx, sample); err != nil {
			return err
		}

		before := cloneState(sample.RoutingState)
		sample.Status = model.SampleStatusCancelled
		sample.RoutingState = cancelledState(sample.RoutingState)
		if err := s.entities.SaveEntityInTx(ctx, tx, sample); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, sample, &before, "cancel", actor); err != nil {
			return err
		}

		if sample.RootSampleID != nil {
			return nil
		}
		if err := tx.WithContext(ctx).Model(&model.Sample{}).
			Where("root_sample_id = ? AND status = ?", sample.ID, model.SampleStatusActive).
			Updates(map[string]any{
				"status":         model.SampleStatusCancelled,
				"pending_action": nil,
				"next_step_id":   nil,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel derived samples: %w", err)
		}
		return s.cancelReportOptions(ctx, tx, "root_sample_id = ?", sample.ID)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "sample cancelled", "sampleID", sample.ID, "actor", actor)
	return sample, nil
}
