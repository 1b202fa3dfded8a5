package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenPathLab/lims/internal/collaborator"
	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// setupTestDB returns a postgres-dialect gorm DB backed by sqlmock.
func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return gormDB, sqlMock
}

// setupSQLiteDB returns a migrated in-memory database on a single connection.
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

// Action names used by the histology fixture.
const (
	actReceiveSample     = "ReceiveSample"
	actPrintLabel        = "PrintLabel"
	actPerformGrossing   = "PerformGrossing"
	actPerformMicrotomy  = "PerformMicrotomy"
	actSendToStaining    = "SendToStaining"
	actPerformStaining   = "PerformStaining"
	actSendToImaging     = "SendToImaging"
	actPerformImaging    = "PerformImaging"
	actCompleteWetLab    = "CompleteWetLab"
	actAssignPathologist = "AssignPathologist"
	actPrepareReport     = "PrepareReport"
	actSignOutReport     = "SignOutReport"
)

type stepDef struct {
	name    string
	no      int
	dept    string
	wfType  model.WorkflowType
	actions []actionDef
}

type actionDef struct {
	action string
	method model.ActionMethod
}

// histologyFixture holds the reference data of a small histopathology lab.
//
// The test-specific path (test IHC on tissue in a cassette) runs
// Accessioning(1) -> Grossing(3) -> Staining(4) -> Imaging(5) -> Reporting(6) -> SignOut(7).
// The override workflow "Rapid" only has a Grossing step whose PerformMicrotomy
// action is mapped to perform_grossing.
type histologyFixture struct {
	db *gorm.DB

	depts map[string]uuid.UUID
	steps map[string]uuid.UUID
	// testSteps maps step name to TestWorkflowStep ID on the test-specific path.
	testSteps map[string]uuid.UUID

	test            model.Test
	sampleType      model.SampleType
	containerType   model.ContainerType
	workflow        model.Workflow
	rapidWorkflow   model.Workflow
	rapidGrossingWS model.WorkflowStep
}

var histologySteps = []stepDef{
	{"Accessioning", 1, "Reception", model.WorkflowTypeWetLab, []actionDef{
		{actReceiveSample, model.ActionMethodReceiveSample},
		{actPrintLabel, model.ActionMethodPrintLabel},
	}},
	{"Grossing", 3, "Histology", model.WorkflowTypeWetLab, []actionDef{
		{actPerformGrossing, model.ActionMethodPerformGrossing},
		{actPerformMicrotomy, model.ActionMethodPerformMicrotomy},
	}},
	{"Staining", 4, "Histology", model.WorkflowTypeWetLab, []actionDef{
		{actSendToStaining, model.ActionMethodSendToStaining},
		{actPerformStaining, model.ActionMethodPerformStaining},
	}},
	{"Imaging", 5, "Imaging", model.WorkflowTypeWetLab, []actionDef{
		{actSendToImaging, model.ActionMethodSendToImaging},
		{actPerformImaging, model.ActionMethodPerformImaging},
		{actCompleteWetLab, model.ActionMethodCompleteWetLab},
	}},
	{"Reporting", 6, "Pathology", model.WorkflowTypeDryLab, []actionDef{
		{actAssignPathologist, model.ActionMethodAssignPathologist},
		{actPrepareReport, model.ActionMethodPrepareReport},
	}},
	{"SignOut", 7, "Pathology", model.WorkflowTypeDryLab, []actionDef{
		{actSignOutReport, model.ActionMethodSignOutReport},
	}},
}

func seedHistology(t *testing.T, db *gorm.DB) *histologyFixture {
	t.Helper()
	f := &histologyFixture{
		db:        db,
		depts:     map[string]uuid.UUID{},
		steps:     map[string]uuid.UUID{},
		testSteps: map[string]uuid.UUID{},
	}

	for _, name := range []string{"Reception", "Histology", "Imaging", "Pathology"} {
		d := model.Department{Name: name}
		require.NoError(t, db.Create(&d).Error)
		f.depts[name] = d.ID
	}

	f.workflow = model.Workflow{Name: "Histopathology", Methodology: "IHC", AccessionType: "Clinical"}
	require.NoError(t, db.Create(&f.workflow).Error)
	f.rapidWorkflow = model.Workflow{Name: "Rapid", Methodology: "Frozen Section", AccessionType: "Clinical"}
	require.NoError(t, db.Create(&f.rapidWorkflow).Error)

	f.test = model.Test{Code: "IHC-01", Name: "Immunohistochemistry", WorkflowID: model.UUIDPtr(f.workflow.ID)}
	require.NoError(t, db.Create(&f.test).Error)
	f.sampleType = model.SampleType{Name: "Tissue"}
	require.NoError(t, db.Create(&f.sampleType).Error)
	f.containerType = model.ContainerType{Name: "Cassette"}
	require.NoError(t, db.Create(&f.containerType).Error)

	for _, def := range histologySteps {
		step := model.Step{Name: def.name}
		require.NoError(t, db.Create(&step).Error)
		f.steps[def.name] = step.ID

		tws := model.TestWorkflowStep{
			TestID:          f.test.ID,
			WorkflowID:      f.workflow.ID,
			StepID:          step.ID,
			SampleTypeID:    f.sampleType.ID,
			ContainerTypeID: f.containerType.ID,
			StepNo:          def.no,
			DepartmentID:    model.UUIDPtr(f.depts[def.dept]),
			WorkflowType:    def.wfType,
		}
		require.NoError(t, db.Create(&tws).Error)
		f.testSteps[def.name] = tws.ID

		for i, a := range def.actions {
			m := model.TestWorkflowStepActionMap{
				TestWorkflowStepID: model.UUIDPtr(tws.ID),
				Action:             a.action,
				Sequence:           i + 1,
				ActionMethod:       a.method,
			}
			require.NoError(t, db.Create(&m).Error)
		}
	}

	f.rapidGrossingWS = model.WorkflowStep{
		WorkflowID:   f.rapidWorkflow.ID,
		StepID:       f.steps["Grossing"],
		StepNo:       1,
		DepartmentID: model.UUIDPtr(f.depts["Histology"]),
		WorkflowType: model.WorkflowTypeWetLab,
	}
	require.NoError(t, db.Create(&f.rapidGrossingWS).Error)
	require.NoError(t, db.Create(&model.TestWorkflowStepActionMap{
		WorkflowStepID: model.UUIDPtr(f.rapidGrossingWS.ID),
		Action:         actPerformMicrotomy,
		Sequence:       1,
		ActionMethod:   model.ActionMethodPerformGrossing,
	}).Error)

	return f
}

// setBackwardMovement toggles the backward flag of a test-specific step.
func (f *histologyFixture) setBackwardMovement(t *testing.T, step string, allowed bool) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.TestWorkflowStep{}).
		Where("id = ?", f.testSteps[step]).
		Update("backward_movement", allowed).Error)
}

func (f *histologyFixture) newAccession(t *testing.T, status model.AccessionStatus) *model.Accession {
	t.Helper()
	a := &model.Accession{
		AccessionNo:   "SP-" + uuid.NewString()[:8],
		AccessionType: "Clinical",
		SubjectRef:    "MRN-1001",
		NotifyEmail:   model.StringPtr("clinic@example.org"),
		Status:        status,
	}
	require.NoError(t, f.db.Create(a).Error)
	return a
}

// newSample stores an active sample parked at step with the given pending action.
func (f *histologyFixture) newSample(t *testing.T, accession *model.Accession, code, step, pending string) *model.Sample {
	t.Helper()
	s := &model.Sample{
		AccessionID:     accession.ID,
		Code:            code,
		TestID:          f.test.ID,
		SampleTypeID:    f.sampleType.ID,
		ContainerTypeID: f.containerType.ID,
		Status:          model.SampleStatusActive,
		RoutingState: model.RoutingState{
			CurrentStepID:         model.UUIDPtr(f.steps[step]),
			PendingAction:         model.StringPtr(pending),
			CustodialDepartmentID: model.UUIDPtr(f.depts[f.deptOf(step)]),
		},
	}
	if next := f.stepAfter(step); next != "" {
		s.NextStepID = model.UUIDPtr(f.steps[next])
	}
	require.NoError(t, f.db.Create(s).Error)
	return s
}

func (f *histologyFixture) deptOf(step string) string {
	for _, def := range histologySteps {
		if def.name == step {
			return def.dept
		}
	}
	return ""
}

func (f *histologyFixture) stepAfter(step string) string {
	for i, def := range histologySteps {
		if def.name == step && i+1 < len(histologySteps) && histologySteps[i+1].wfType == def.wfType {
			return histologySteps[i+1].name
		}
	}
	return ""
}

func (f *histologyFixture) reloadSample(t *testing.T, id uuid.UUID) *model.Sample {
	t.Helper()
	var s model.Sample
	require.NoError(t, f.db.First(&s, "id = ?", id).Error)
	return &s
}

func (f *histologyFixture) reloadReportOption(t *testing.T, id uuid.UUID) *model.ReportOption {
	t.Helper()
	var ro model.ReportOption
	require.NoError(t, f.db.First(&ro, "id = ?", id).Error)
	return &ro
}

func (f *histologyFixture) routingRows(t *testing.T, column string, id uuid.UUID) []model.RoutingInfo {
	t.Helper()
	var rows []model.RoutingInfo
	require.NoError(t, f.db.Where(column+" = ?", id).Order("created_at ASC").Find(&rows).Error)
	return rows
}

// syncRunner runs background tasks inline so tests can observe them.
type syncRunner struct {
	mu     sync.Mutex
	tasks  []string
	errors []error
}

func (r *syncRunner) Go(task string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	if err != nil {
		r.errors = append(r.errors, err)
	}
}

type fakeLabelPrinter struct {
	mu      sync.Mutex
	printed []collaborator.Label
	err     error
}

func (p *fakeLabelPrinter) PrintLabels(ctx context.Context, labels []collaborator.Label) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.printed = append(p.printed, labels...)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []collaborator.MailData
}

func (m *fakeMailer) Send(ctx context.Context, mail collaborator.MailData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

type fakeReportGenerator struct {
	requests []collaborator.ReportRequest
	err      error
}

func (g *fakeReportGenerator) Generate(ctx context.Context, req collaborator.ReportRequest) (*collaborator.GeneratedReport, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	key := req.ReportOptionID.String() + ".pdf"
	return &collaborator.GeneratedReport{Key: key, URL: "/api/uploads/" + key}, nil
}

type testServices struct {
	refs      *ReferenceService
	entities  *EntityService
	audit     *RoutingAudit
	sequences *SequenceGenerator
	resolver  *StepResolver
	labels    *fakeLabelPrinter
	mail      *fakeMailer
	reports   *fakeReportGenerator
	runner    *syncRunner
}

func newTestServices(db *gorm.DB, settings RoutingSettings) *testServices {
	s := &testServices{
		refs:      NewReferenceService(db),
		entities:  NewEntityService(db),
		sequences: NewSequenceGenerator(),
		labels:    &fakeLabelPrinter{},
		mail:      &fakeMailer{},
		reports:   &fakeReportGenerator{},
		runner:    &syncRunner{},
	}
	s.audit = NewRoutingAudit(db, s.entities)
	s.resolver = NewStepResolver(db, s.refs, s.entities, s.audit, s.sequences, s.collaborators(), settings)
	return s
}

func (s *testServices) collaborators() Collaborators {
	return Collaborators{Labels: s.labels, Mail: s.mail, Reports: s.reports, Async: s.runner}
}

func defaultSettings() RoutingSettings {
	return RoutingSettings{
		DefaultSlideCount:   1,
		AccessionPrefix:     "SP",
		PharmaAccessionType: "Pharma",
	}
}
