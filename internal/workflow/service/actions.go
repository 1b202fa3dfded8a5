package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/collaborator"
	"github.com/OpenPathLab/lims/internal/workflow/model"
)

func (r *StepResolver) advanceOnly(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	return &ActionOutcome{ApplyPendingAction: true}, nil
}

func samplesOf(targets []*ActionTarget) ([]*model.Sample, error) {
	samples := make([]*model.Sample, 0, len(targets))
	for _, t := range targets {
		sample, ok := t.Entity.(*model.Sample)
		if !ok {
			return nil, fmt.Errorf("expected sample, got %s %s", t.Entity.EntityKind(), t.Entity.EntityID())
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func reportOptionsOf(targets []*ActionTarget) ([]*model.ReportOption, error) {
	options := make([]*model.ReportOption, 0, len(targets))
	for _, t := range targets {
		option, ok := t.Entity.(*model.ReportOption)
		if !ok {
			return nil, fmt.Errorf("expected report option, got %s %s", t.Entity.EntityKind(), t.Entity.EntityID())
		}
		options = append(options, option)
	}
	return options, nil
}

// labelsFor builds print labels for samples, carrying their accession numbers.
func labelsFor(ctx context.Context, tx *gorm.DB, samples []*model.Sample) ([]collaborator.Label, error) {
	ids := make([]uuid.UUID, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.AccessionID)
	}

	var accessions []model.Accession
	if len(ids) > 0 {
		if err := tx.WithContext(ctx).Select("id", "accession_no").
			Where("id IN ?", dedupeIDs(ids)).
			Find(&accessions).Error; err != nil {
			return nil, fmt.Errorf("failed to load accession numbers: %w", err)
		}
	}
	numbers := make(map[uuid.UUID]string, len(accessions))
	for _, a := range accessions {
		numbers[a.ID] = a.AccessionNo
	}

	labels := make([]collaborator.Label, 0, len(samples))
	for _, s := range samples {
		labels = append(labels, collaborator.Label{SampleID: s.ID, Code: s.Code, AccessionNo: numbers[s.AccessionID]})
	}
	return labels, nil
}

// queueLabels prints labels in the background. Failures are only logged.
func (r *StepResolver) queueLabels(labels []collaborator.Label) AfterCommitFunc {
	return func(ctx context.Context) []collaborator.Result {
		if r.collab.Labels == nil || r.collab.Async == nil || len(labels) == 0 {
			return nil
		}
		r.collab.Async.Go("print-labels", func(ctx context.Context) error {
			return r.collab.Labels.PrintLabels(ctx, labels)
		})
		return nil
	}
}

func (r *StepResolver) receiveSample(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	samples, err := samplesOf(batch.Items)
	if err != nil {
		return nil, err
	}
	labels, err := labelsFor(ctx, tx, samples)
	if err != nil {
		return nil, err
	}
	return &ActionOutcome{
		ApplyPendingAction: true,
		AfterCommit:        []AfterCommitFunc{r.queueLabels(labels)},
	}, nil
}

// printLabel prints synchronously after commit so the caller sees the outcome.
func (r *StepResolver) printLabel(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	samples, err := samplesOf(batch.Items)
	if err != nil {
		return nil, err
	}
	labels, err := labelsFor(ctx, tx, samples)
	if err != nil {
		return nil, err
	}

	return &ActionOutcome{
		ApplyPendingAction: true,
		AfterCommit: []AfterCommitFunc{func(ctx context.Context) []collaborator.Result {
			if r.collab.Labels == nil {
				return []collaborator.Result{collaborator.Warning("label printer is not configured")}
			}
			if err := r.collab.Labels.PrintLabels(ctx, labels); err != nil {
				slog.WarnContext(ctx, "label printing failed", "count", len(labels), "error", err)
				return []collaborator.Result{collaborator.Failure(fmt.Sprintf("label printing failed: %v", err))}
			}
			return []collaborator.Result{collaborator.Success(fmt.Sprintf("printed %d labels", len(labels)))}
		}},
	}, nil
}

// performMicrotomy cuts child samples from each block. The children inherit the
// parent's scope and position and are the ones that advance. The parent is used
// up and completes without a report option of its own.
func (r *StepResolver) performMicrotomy(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	count := batch.Request.Params.SlideCount
	if count <= 0 {
		count = r.settings.DefaultSlideCount
	}

	outcome := &ActionOutcome{
		ApplyPendingAction: true,
		Targets:            []*ActionTarget{},
		CreatedSamples:     []uuid.UUID{},
	}
	children := make([]*model.Sample, 0, len(batch.Items)*count)

	for _, item := range batch.Items {
		parent, ok := item.Entity.(*model.Sample)
		if !ok {
			return nil, fmt.Errorf("expected sample, got %s %s", item.Entity.EntityKind(), item.Entity.EntityID())
		}

		root := parent.RootSample
		if root == nil {
			root = parent
		}

		for n := 0; n < count; n++ {
			code, err := r.sequences.NextCode(ctx, tx, parent.Code+"-", SequenceModelSample, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to allocate child code for %s: %w", parent.Code, err)
			}
			child := &model.Sample{
				AccessionID:     parent.AccessionID,
				ParentSampleID:  model.UUIDPtr(parent.ID),
				RootSampleID:    model.UUIDPtr(parent.RootID()),
				Code:            code,
				TestID:          parent.TestID,
				SampleTypeID:    parent.SampleTypeID,
				ContainerTypeID: parent.ContainerTypeID,
				WorkflowID:      parent.WorkflowID,
				Status:          model.SampleStatusActive,
				RoutingState:    cloneState(item.Before),
				RootSample:      root,
			}
			children = append(children, child)
		}

		parent.Status = model.SampleStatusCompleted
		parent.PendingAction = nil
		parent.NextStepID = nil
		if err := r.entities.SaveEntityInTx(ctx, tx, parent); err != nil {
			return nil, err
		}
	}

	if err := r.entities.CreateSamplesInTx(ctx, tx, children); err != nil {
		return nil, err
	}

	for i, child := range children {
		item := batch.Items[i/count]
		outcome.Targets = append(outcome.Targets, &ActionTarget{
			Entity:    child,
			Position:  item.Position,
			ActionMap: item.ActionMap,
			Before:    cloneState(child.RoutingState),
		})
		outcome.CreatedSamples = append(outcome.CreatedSamples, child.ID)
	}
	labels, err := labelsFor(ctx, tx, children)
	if err != nil {
		return nil, err
	}
	outcome.AfterCommit = []AfterCommitFunc{r.queueLabels(labels)}

	slog.InfoContext(ctx, "microtomy performed", "blocks", len(batch.Items), "slides", len(children))
	return outcome, nil
}

func (r *StepResolver) completeWetLab(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	samples, err := samplesOf(batch.Items)
	if err != nil {
		return nil, err
	}

	res, err := r.cascade.Complete(ctx, tx, samples, batch.Request.DesiredAction, batch.Request.Actor)
	if err != nil {
		return nil, err
	}

	outcome := &ActionOutcome{ReportOptions: res.ReportOptionIDs, Skipped: res.Skipped}
	for _, skipped := range res.Skipped {
		slog.WarnContext(ctx, "sample not completed", "sampleID", skipped.ID, "reason", skipped.Reason)
	}
	return outcome, nil
}

func (r *StepResolver) assignPathologist(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	assignTo := batch.Request.Params.AssignTo
	if assignTo == nil || strings.TrimSpace(*assignTo) == "" {
		return nil, newValidationError(ErrInvalidRequest, "assignTo is required for %s", batch.Method)
	}

	for _, item := range batch.Items {
		item.Entity.Routing().CustodialUserID = model.StringPtr(strings.TrimSpace(*assignTo))
	}
	return &ActionOutcome{ApplyPendingAction: true}, nil
}

// signOutReport closes the report options and, after commit, renders and stores
// each report and mails it to the accession's notification address.
func (r *StepResolver) signOutReport(ctx context.Context, tx *gorm.DB, batch *ActionBatch) (*ActionOutcome, error) {
	options, err := reportOptionsOf(batch.Items)
	if err != nil {
		return nil, err
	}

	accessionIDs := make([]uuid.UUID, 0, len(options))
	for _, option := range options {
		option.Status = model.ReportOptionStatusCompleted
		accessionIDs = append(accessionIDs, option.AccessionID)
	}

	var accessions []model.Accession
	if err := tx.WithContext(ctx).Where("id IN ?", dedupeIDs(accessionIDs)).Find(&accessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load accessions: %w", err)
	}
	accessionByID := make(map[uuid.UUID]model.Accession, len(accessions))
	for _, a := range accessions {
		accessionByID[a.ID] = a
	}

	actor := batch.Request.Actor
	return &ActionOutcome{
		ApplyPendingAction: true,
		AfterCommit: []AfterCommitFunc{func(ctx context.Context) []collaborator.Result {
			results := make([]collaborator.Result, 0, len(options))
			for _, option := range options {
				results = append(results, r.publishReport(ctx, option, accessionByID[option.AccessionID], actor))
			}
			return results
		}},
	}, nil
}

// publishReport generates and stores the document for option, records its key and
// queues the notification mail.
func (r *StepResolver) publishReport(ctx context.Context, option *model.ReportOption, accession model.Accession, actor string) collaborator.Result {
	if r.collab.Reports == nil {
		return collaborator.Warning(fmt.Sprintf("report %s signed out; report engine is not configured", option.ID))
	}

	generated, err := r.collab.Reports.Generate(ctx, collaborator.ReportRequest{
		ReportOptionID: option.ID,
		AccessionID:    option.AccessionID,
		AccessionNo:    accession.AccessionNo,
		TestID:         option.TestID,
		Methodology:    option.Methodology,
		SignedOutBy:    actor,
	})
	if err != nil {
		slog.WarnContext(ctx, "report generation failed", "reportOptionID", option.ID, "error", err)
		return collaborator.Failure(fmt.Sprintf("report %s signed out but generation failed: %v", option.ID, err))
	}

	if err := r.db.WithContext(ctx).Model(&model.ReportOption{}).
		Where("id = ?", option.ID).
		Update("report_key", generated.Key).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record report key", "reportOptionID", option.ID, "error", err)
		return collaborator.Failure(fmt.Sprintf("report %s generated but its key could not be saved", option.ID))
	}
	option.ReportKey = model.StringPtr(generated.Key)

	if accession.NotifyEmail != nil && *accession.NotifyEmail != "" && r.collab.Mail != nil && r.collab.Async != nil {
		mail := collaborator.MailData{
			To:      []string{*accession.NotifyEmail},
			Subject: fmt.Sprintf("Report ready for accession %s", accession.AccessionNo),
			Body:    fmt.Sprintf("The report for accession %s is available at %s", accession.AccessionNo, generated.URL),
			Meta:    map[string]any{"reportOptionId": option.ID.String(), "reportKey": generated.Key},
		}
		r.collab.Async.Go("mail-report", func(ctx context.Context) error {
			return r.collab.Mail.Send(ctx, mail)
		})
	}

	return collaborator.Success(fmt.Sprintf("report %s generated", option.ID))
}
