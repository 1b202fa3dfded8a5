package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

func TestRoutingService_Route(t *testing.T) {
	setup := func(t *testing.T) (*histologyFixture, *RoutingService, *model.Sample) {
		db := setupSQLiteDB(t)
		f := seedHistology(t, db)
		svc := newTestServices(db, defaultSettings())
		accession := f.newAccession(t, model.AccessionStatusActive)
		sample := f.newSample(t, accession, "S-1", "Staining", actPerformStaining)
		return f, NewRoutingService(db, svc.refs, svc.entities, svc.audit), sample
	}
	ctx := context.Background()

	t.Run("forward move places at first action", func(t *testing.T) {
		f, s, sample := setup(t)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
			StepID: model.UUIDPtr(f.steps["Imaging"]),
		}, "supervisor")
		require.NoError(t, err)

		got := f.reloadSample(t, sample.ID)
		assert.Equal(t, f.steps["Imaging"], *got.CurrentStepID)
		assert.Equal(t, actSendToImaging, *got.PendingAction)
		assert.Equal(t, f.depts["Imaging"], *got.CustodialDepartmentID)

		rows := f.routingRows(t, "sample_id", sample.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, f.steps["Staining"], *rows[0].FromStepID)
		assert.Equal(t, actionRoute, *rows[0].Action)
	})

	t.Run("backward move rejected without flag", func(t *testing.T) {
		f, s, sample := setup(t)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
			StepID: model.UUIDPtr(f.steps["Grossing"]),
		}, "supervisor")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBackwardMovement))
		assert.Equal(t, f.steps["Staining"], *f.reloadSample(t, sample.ID).CurrentStepID)
		assert.Empty(t, f.routingRows(t, "sample_id", sample.ID))
	})

	t.Run("backward move allowed with flag", func(t *testing.T) {
		f, s, sample := setup(t)
		f.setBackwardMovement(t, "Grossing", true)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
			StepID: model.UUIDPtr(f.steps["Grossing"]),
		}, "supervisor")
		require.NoError(t, err)

		got := f.reloadSample(t, sample.ID)
		assert.Equal(t, f.steps["Grossing"], *got.CurrentStepID)
		assert.Equal(t, actPerformGrossing, *got.PendingAction)
	})

	t.Run("custody handover", func(t *testing.T) {
		f, s, sample := setup(t)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
			DepartmentID: model.UUIDPtr(f.depts["Pathology"]),
			UserID:       model.StringPtr(" dr.rao "),
		}, "supervisor")
		require.NoError(t, err)

		got := f.reloadSample(t, sample.ID)
		assert.Equal(t, f.steps["Staining"], *got.CurrentStepID)
		assert.Equal(t, actPerformStaining, *got.PendingAction)
		assert.Equal(t, "dr.rao", *got.CustodialUserID)

		rows := f.routingRows(t, "sample_id", sample.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, f.depts["Histology"], *rows[0].FromDepartmentID)
		assert.Equal(t, f.depts["Pathology"], *rows[0].ToDepartmentID)
	})

	t.Run("step outside workflow", func(t *testing.T) {
		_, s, sample := setup(t)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
			StepID: model.UUIDPtr(uuid.New()),
		}, "supervisor")
		assert.True(t, errors.Is(err, ErrReferenceNotFound))
		assert.True(t, IsValidationError(err))
	})

	t.Run("cancelled or completed sample is frozen", func(t *testing.T) {
		for _, status := range []model.SampleStatus{model.SampleStatusCancelled, model.SampleStatusCompleted} {
			f, s, sample := setup(t)
			require.NoError(t, f.db.Model(sample).Update("status", status).Error)

			_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
				StepID: model.UUIDPtr(f.steps["Imaging"]),
			}, "supervisor")
			require.Error(t, err, status)
			assert.True(t, errors.Is(err, ErrInactiveEntity))
			assert.True(t, IsValidationError(err))

			got := f.reloadSample(t, sample.ID)
			assert.Equal(t, status, got.Status)
			assert.Equal(t, f.steps["Staining"], *got.CurrentStepID)
			assert.Equal(t, actPerformStaining, *got.PendingAction)
			assert.Empty(t, f.routingRows(t, "sample_id", sample.ID))
		}
	})

	t.Run("empty request", func(t *testing.T) {
		_, s, sample := setup(t)

		_, err := s.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{}, "supervisor")
		assert.True(t, errors.Is(err, ErrInvalidRequest))
	})
}

func TestRoutingService_CancelledSampleCannotBeRevived(t *testing.T) {
	db := setupSQLiteDB(t)
	f := seedHistology(t, db)
	svc := newTestServices(db, defaultSettings())
	routing := NewRoutingService(db, svc.refs, svc.entities, svc.audit)
	ctx := context.Background()

	accession := f.newAccession(t, model.AccessionStatusActive)
	sample := f.newSample(t, accession, "S-1", "Imaging", actSendToImaging)
	require.NoError(t, db.Model(sample).Update("status", model.SampleStatusCancelled).Error)

	_, err := routing.Route(ctx, model.EntityKindSample, sample.ID, &model.RouteEntityDTO{
		StepID: model.UUIDPtr(f.steps["Imaging"]),
	}, "supervisor")
	assert.True(t, errors.Is(err, ErrInactiveEntity))

	// A pending action left over from before the cancellation is not actionable.
	_, err = svc.resolver.Execute(ctx, ActionRequest{
		Kind:          model.EntityKindSample,
		IDs:           []uuid.UUID{sample.ID},
		DesiredAction: actSendToImaging,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInactiveEntity))

	got := f.reloadSample(t, sample.ID)
	assert.Equal(t, model.SampleStatusCancelled, got.Status)
	assert.Equal(t, actSendToImaging, *got.PendingAction)
	assert.Empty(t, f.routingRows(t, "sample_id", sample.ID))
}
