package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.Models()...))
	return db
}

func loadHistology(t *testing.T) *File {
	t.Helper()
	fh, err := os.Open("testdata/histology.yaml")
	require.NoError(t, err)
	defer fh.Close()

	f, err := Parse(fh)
	require.NoError(t, err)
	return f
}

func count(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

func TestApply(t *testing.T) {
	db := setupSQLiteDB(t)
	f := loadHistology(t)
	ctx := context.Background()

	summary, err := Apply(ctx, db, f)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Workflows)
	assert.Equal(t, 3, summary.WorkflowSteps)
	assert.Equal(t, 1, summary.Tests)
	assert.Equal(t, 6, summary.TestWorkflowSteps)
	assert.Equal(t, 15, summary.ActionMaps)

	var test model.Test
	require.NoError(t, db.Where("code = ?", "HE").First(&test).Error)
	require.NotNil(t, test.WorkflowID)

	var grossing model.Step
	require.NoError(t, db.Where("name = ?", "Grossing").First(&grossing).Error)
	var tws model.TestWorkflowStep
	require.NoError(t, db.Where("test_id = ? AND step_id = ?", test.ID, grossing.ID).First(&tws).Error)
	assert.Equal(t, 2, tws.StepNo)
	assert.Equal(t, model.WorkflowTypeWetLab, tws.WorkflowType)

	var maps []model.TestWorkflowStepActionMap
	require.NoError(t, db.Where("test_workflow_step_id = ?", tws.ID).Order("sequence").Find(&maps).Error)
	require.Len(t, maps, 2)
	assert.Equal(t, "PerformGrossing", maps[0].Action)
	assert.Equal(t, model.ActionMethodPerformMicrotomy, maps[1].ActionMethod)
	assert.Equal(t, 2, maps[1].Sequence)
}

func TestApplyIsIdempotent(t *testing.T) {
	db := setupSQLiteDB(t)
	f := loadHistology(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, f)
	require.NoError(t, err)

	// A second run renames nothing and duplicates nothing.
	f.Workflows[0].Methodology = "Routine Histopathology"
	_, err = Apply(ctx, db, f)
	require.NoError(t, err)

	assert.Equal(t, int64(4), count(t, db, &model.Department{}))
	assert.Equal(t, int64(2), count(t, db, &model.Workflow{}))
	assert.Equal(t, int64(6), count(t, db, &model.TestWorkflowStep{}))
	assert.Equal(t, int64(15), count(t, db, &model.TestWorkflowStepActionMap{}))

	var wf model.Workflow
	require.NoError(t, db.Where("name = ?", "Histology Routine").First(&wf).Error)
	assert.Equal(t, "Routine Histopathology", wf.Methodology)
}

func TestApplyRollsBackOnUnknownReference(t *testing.T) {
	db := setupSQLiteDB(t)
	f := loadHistology(t)
	f.Tests[0].Paths[0].Steps[0].Department = "Cytology"

	_, err := Apply(context.Background(), db, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown department "Cytology"`)
	assert.Zero(t, count(t, db, &model.Workflow{}))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", "", "empty"},
		{"unknown key", "colours: [red]\n", "field colours not found"},
		{"bad method", `
workflows:
  - name: W
    steps:
      - { step: S, stepNo: 1, type: WetLab, actions: [ { action: A, method: teleport } ] }
`, `unknown action method "teleport"`},
		{"duplicate step number", `
workflows:
  - name: W
    steps:
      - { step: S1, stepNo: 1, type: WetLab }
      - { step: S2, stepNo: 1, type: WetLab }
`, "duplicate stepNo 1"},
		{"bad type", `
workflows:
  - name: W
    steps:
      - { step: S1, stepNo: 1, type: Bench }
`, "unknown type"},
		{"test without workflow", "tests:\n  - code: HE\n", "needs a code and a workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
