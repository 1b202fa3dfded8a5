// Package seed loads lab reference data (departments, steps, workflows, tests
// and their action maps) from a YAML document into the database.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// File is the root of a reference data document.
type File struct {
	Departments    []string      `yaml:"departments"`
	Steps          []string      `yaml:"steps"`
	SampleTypes    []string      `yaml:"sampleTypes"`
	ContainerTypes []string      `yaml:"containerTypes"`
	Workflows      []WorkflowDef `yaml:"workflows"`
	Tests          []TestDef     `yaml:"tests"`
}

// WorkflowDef declares a workflow. Steps listed here are the generic
// WorkflowStep rows used when a sample carries a workflow override.
type WorkflowDef struct {
	Name          string    `yaml:"name"`
	Methodology   string    `yaml:"methodology"`
	AccessionType string    `yaml:"accessionType"`
	Steps         []StepDef `yaml:"steps"`
}

// TestDef declares an orderable test and its test-specific paths.
type TestDef struct {
	Code     string    `yaml:"code"`
	Name     string    `yaml:"name"`
	Workflow string    `yaml:"workflow"`
	Paths    []PathDef `yaml:"paths"`
}

// PathDef is the ordered step list for one sample type and container type.
type PathDef struct {
	SampleType    string    `yaml:"sampleType"`
	ContainerType string    `yaml:"containerType"`
	Steps         []StepDef `yaml:"steps"`
}

type StepDef struct {
	Step             string             `yaml:"step"`
	StepNo           int                `yaml:"stepNo"`
	Department       string             `yaml:"department"`
	Type             model.WorkflowType `yaml:"type"`
	BackwardMovement bool               `yaml:"backwardMovement"`
	Actions          []ActionDef        `yaml:"actions"`
}

// ActionDef maps an action name to its handler. Sequence follows list order.
type ActionDef struct {
	Action string `yaml:"action"`
	Method string `yaml:"method"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Workflows         int
	WorkflowSteps     int
	Tests             int
	TestWorkflowSteps int
	ActionMaps        int
}

// Parse decodes a reference data document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("seed document is empty")
		}
		return nil, fmt.Errorf("failed to parse seed document: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	checkSteps := func(owner string, steps []StepDef) error {
		seen := make(map[int]bool, len(steps))
		for _, s := range steps {
			if s.StepNo < 1 {
				return fmt.Errorf("%s: step %q must have a positive stepNo", owner, s.Step)
			}
			if seen[s.StepNo] {
				return fmt.Errorf("%s: duplicate stepNo %d", owner, s.StepNo)
			}
			seen[s.StepNo] = true
			if s.Type != model.WorkflowTypeWetLab && s.Type != model.WorkflowTypeDryLab {
				return fmt.Errorf("%s: step %q has unknown type %q", owner, s.Step, s.Type)
			}
			for _, a := range s.Actions {
				if a.Action == "" {
					return fmt.Errorf("%s: step %q has an action without a name", owner, s.Step)
				}
				if _, err := model.ParseActionMethod(a.Method); err != nil {
					return fmt.Errorf("%s: step %q: %w", owner, s.Step, err)
				}
			}
		}
		return nil
	}

	for _, wf := range f.Workflows {
		if wf.Name == "" {
			return fmt.Errorf("workflow name is required")
		}
		if err := checkSteps("workflow "+wf.Name, wf.Steps); err != nil {
			return err
		}
	}
	for _, t := range f.Tests {
		if t.Code == "" || t.Workflow == "" {
			return fmt.Errorf("test %q needs a code and a workflow", t.Name)
		}
		for _, p := range t.Paths {
			if err := checkSteps(fmt.Sprintf("test %s (%s/%s)", t.Code, p.SampleType, p.ContainerType), p.Steps); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply upserts the document in one transaction. Named rows are matched by
// name (tests by code); action maps of every seeded step are replaced.
// Departments, steps and types are resolved within the document only.
func Apply(ctx context.Context, db *gorm.DB, f *File) (*Summary, error) {
	var summary Summary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := &loader{tx: tx, summary: &summary}
		return l.load(f)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "reference data applied",
		"workflows", summary.Workflows,
		"workflowSteps", summary.WorkflowSteps,
		"tests", summary.Tests,
		"testWorkflowSteps", summary.TestWorkflowSteps,
		"actionMaps", summary.ActionMaps)
	return &summary, nil
}

type loader struct {
	tx      *gorm.DB
	summary *Summary

	departments    map[string]uuid.UUID
	steps          map[string]uuid.UUID
	sampleTypes    map[string]uuid.UUID
	containerTypes map[string]uuid.UUID
	workflows      map[string]uuid.UUID
}

func (l *loader) load(f *File) error {
	var err error
	l.departments, err = upsertNamed(l.tx, f.Departments,
		func(n string) *model.Department { return &model.Department{Name: n} },
		func(d *model.Department) uuid.UUID { return d.ID })
	if err != nil {
		return err
	}
	l.steps, err = upsertNamed(l.tx, f.Steps,
		func(n string) *model.Step { return &model.Step{Name: n} },
		func(s *model.Step) uuid.UUID { return s.ID })
	if err != nil {
		return err
	}
	l.sampleTypes, err = upsertNamed(l.tx, f.SampleTypes,
		func(n string) *model.SampleType { return &model.SampleType{Name: n} },
		func(s *model.SampleType) uuid.UUID { return s.ID })
	if err != nil {
		return err
	}
	l.containerTypes, err = upsertNamed(l.tx, f.ContainerTypes,
		func(n string) *model.ContainerType { return &model.ContainerType{Name: n} },
		func(c *model.ContainerType) uuid.UUID { return c.ID })
	if err != nil {
		return err
	}

	l.workflows = make(map[string]uuid.UUID, len(f.Workflows))
	for _, def := range f.Workflows {
		if err := l.loadWorkflow(def); err != nil {
			return err
		}
	}
	for _, def := range f.Tests {
		if err := l.loadTest(def); err != nil {
			return err
		}
	}
	return nil
}

// upsertNamed creates any missing rows and returns name to ID.
func upsertNamed[T any](tx *gorm.DB, names []string, build func(string) *T, idOf func(*T) uuid.UUID) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		row := build(name)
		if err := tx.Where(row).FirstOrCreate(row).Error; err != nil {
			return nil, fmt.Errorf("failed to upsert %T %q: %w", row, name, err)
		}
		ids[name] = idOf(row)
	}
	return ids, nil
}

func lookup(kind string, ids map[string]uuid.UUID, name string) (uuid.UUID, error) {
	id, ok := ids[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown %s %q", kind, name)
	}
	return id, nil
}

func (l *loader) department(name string) (*uuid.UUID, error) {
	if name == "" {
		return nil, nil
	}
	id, err := lookup("department", l.departments, name)
	if err != nil {
		return nil, err
	}
	return model.UUIDPtr(id), nil
}

func (l *loader) loadWorkflow(def WorkflowDef) error {
	wf := model.Workflow{Name: def.Name}
	err := l.tx.Where(&model.Workflow{Name: def.Name}).
		Assign(map[string]any{"methodology": def.Methodology, "accession_type": def.AccessionType}).
		FirstOrCreate(&wf).Error
	if err != nil {
		return fmt.Errorf("failed to upsert workflow %q: %w", def.Name, err)
	}
	l.workflows[def.Name] = wf.ID
	l.summary.Workflows++

	for _, s := range def.Steps {
		stepID, err := lookup("step", l.steps, s.Step)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", def.Name, err)
		}
		dept, err := l.department(s.Department)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", def.Name, err)
		}

		ws := model.WorkflowStep{WorkflowID: wf.ID, StepNo: s.StepNo}
		err = l.tx.Where(&model.WorkflowStep{WorkflowID: wf.ID, StepNo: s.StepNo}).
			Assign(map[string]any{"step_id": stepID, "department_id": dept, "workflow_type": s.Type}).
			FirstOrCreate(&ws).Error
		if err != nil {
			return fmt.Errorf("failed to upsert step %d of workflow %q: %w", s.StepNo, def.Name, err)
		}
		l.summary.WorkflowSteps++

		if err := l.replaceActionMaps("workflow_step_id", ws.ID, s.Actions); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadTest(def TestDef) error {
	workflowID, ok := l.workflows[def.Workflow]
	if !ok {
		var wf model.Workflow
		if err := l.tx.Where("name = ?", def.Workflow).First(&wf).Error; err != nil {
			return fmt.Errorf("test %s: unknown workflow %q: %w", def.Code, def.Workflow, err)
		}
		workflowID = wf.ID
	}

	test := model.Test{Code: def.Code}
	err := l.tx.Where(&model.Test{Code: def.Code}).
		Assign(map[string]any{"name": def.Name, "workflow_id": workflowID}).
		FirstOrCreate(&test).Error
	if err != nil {
		return fmt.Errorf("failed to upsert test %q: %w", def.Code, err)
	}
	l.summary.Tests++

	for _, p := range def.Paths {
		sampleTypeID, err := lookup("sample type", l.sampleTypes, p.SampleType)
		if err != nil {
			return fmt.Errorf("test %s: %w", def.Code, err)
		}
		containerTypeID, err := lookup("container type", l.containerTypes, p.ContainerType)
		if err != nil {
			return fmt.Errorf("test %s: %w", def.Code, err)
		}

		for _, s := range p.Steps {
			stepID, err := lookup("step", l.steps, s.Step)
			if err != nil {
				return fmt.Errorf("test %s: %w", def.Code, err)
			}
			dept, err := l.department(s.Department)
			if err != nil {
				return fmt.Errorf("test %s: %w", def.Code, err)
			}

			key := model.TestWorkflowStep{
				TestID:          test.ID,
				WorkflowID:      workflowID,
				StepID:          stepID,
				SampleTypeID:    sampleTypeID,
				ContainerTypeID: containerTypeID,
			}
			tws := key
			err = l.tx.Where(&key).
				Assign(map[string]any{
					"step_no":           s.StepNo,
					"department_id":     dept,
					"workflow_type":     s.Type,
					"backward_movement": s.BackwardMovement,
				}).
				FirstOrCreate(&tws).Error
			if err != nil {
				return fmt.Errorf("failed to upsert test %s step %q: %w", def.Code, s.Step, err)
			}
			l.summary.TestWorkflowSteps++

			if err := l.replaceActionMaps("test_workflow_step_id", tws.ID, s.Actions); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) replaceActionMaps(column string, ownerID uuid.UUID, actions []ActionDef) error {
	if err := l.tx.Where(column+" = ?", ownerID).Delete(&model.TestWorkflowStepActionMap{}).Error; err != nil {
		return fmt.Errorf("failed to clear action maps: %w", err)
	}
	for i, a := range actions {
		m := model.TestWorkflowStepActionMap{
			Action:       a.Action,
			Sequence:     i + 1,
			ActionMethod: model.ActionMethod(a.Method),
		}
		if column == "workflow_step_id" {
			m.WorkflowStepID = model.UUIDPtr(ownerID)
		} else {
			m.TestWorkflowStepID = model.UUIDPtr(ownerID)
		}
		if err := l.tx.Create(&m).Error; err != nil {
			return fmt.Errorf("failed to create action map %q: %w", a.Action, err)
		}
		l.summary.ActionMaps++
	}
	return nil
}
