package model

import "github.com/google/uuid"

// WorkflowType separates bench processing steps from reporting steps.
type WorkflowType string

const (
	WorkflowTypeWetLab WorkflowType = "WetLab" // Physical specimen processing (grossing, microtomy, staining, imaging)
	WorkflowTypeDryLab WorkflowType = "DryLab" // Reporting and sign-out
)

// Department is a lab section that takes custody of entities at a step.
type Department struct {
	BaseModel
	Name string `gorm:"type:varchar(100);column:name;not null;uniqueIndex" json:"name"`
}

func (d *Department) TableName() string {
	return "departments"
}

// Step is a named lab step (Grossing, Staining, ...) that workflows arrange in order.
type Step struct {
	BaseModel
	Name string `gorm:"type:varchar(100);column:name;not null;uniqueIndex" json:"name"`
}

func (s *Step) TableName() string {
	return "steps"
}

// Test is an orderable lab test. WorkflowID is the workflow used on the test-specific path.
type Test struct {
	BaseModel
	Code       string     `gorm:"type:varchar(50);column:code;not null;uniqueIndex" json:"code"`
	Name       string     `gorm:"type:varchar(255);column:name;not null" json:"name"`
	WorkflowID *uuid.UUID `gorm:"type:uuid;column:workflow_id" json:"workflowId,omitempty"`
}

func (t *Test) TableName() string {
	return "tests"
}

// SampleType classifies a specimen (tissue, blood, ...).
type SampleType struct {
	BaseModel
	Name string `gorm:"type:varchar(100);column:name;not null;uniqueIndex" json:"name"`
}

func (s *SampleType) TableName() string {
	return "sample_types"
}

// ContainerType classifies what the specimen is held in (cassette, slide, tube, ...).
type ContainerType struct {
	BaseModel
	Name string `gorm:"type:varchar(100);column:name;not null;uniqueIndex" json:"name"`
}

func (c *ContainerType) TableName() string {
	return "container_types"
}

// Workflow defines an ordered pipeline of steps.
type Workflow struct {
	BaseModel
	Name          string `gorm:"type:varchar(255);column:name;not null;uniqueIndex" json:"name"`
	Methodology   string `gorm:"type:varchar(100);column:methodology" json:"methodology"`
	AccessionType string `gorm:"type:varchar(100);column:accession_type" json:"accessionType"`
}

func (w *Workflow) TableName() string {
	return "workflows"
}

// WorkflowStep places a Step inside a Workflow. StepNo strictly orders steps within a workflow.
type WorkflowStep struct {
	BaseModel
	WorkflowID   uuid.UUID    `gorm:"type:uuid;column:workflow_id;not null;uniqueIndex:idx_workflow_step_no,priority:1" json:"workflowId"`
	StepID       uuid.UUID    `gorm:"type:uuid;column:step_id;not null" json:"stepId"`
	StepNo       int          `gorm:"column:step_no;not null;uniqueIndex:idx_workflow_step_no,priority:2" json:"stepNo"`
	DepartmentID *uuid.UUID   `gorm:"type:uuid;column:department_id" json:"departmentId,omitempty"`
	WorkflowType WorkflowType `gorm:"type:varchar(20);column:workflow_type;not null" json:"workflowType"`

	// Relationships
	Step Step `gorm:"foreignKey:StepID;references:ID" json:"step"`
}

func (ws *WorkflowStep) TableName() string {
	return "workflow_steps"
}

// TestWorkflowStep scopes a workflow step to a specific test, sample type and container type.
// When present it overrides the generic WorkflowStep path for matching samples.
type TestWorkflowStep struct {
	BaseModel
	TestID           uuid.UUID    `gorm:"type:uuid;column:test_id;not null;uniqueIndex:idx_test_workflow_step,priority:1" json:"testId"`
	WorkflowID       uuid.UUID    `gorm:"type:uuid;column:workflow_id;not null;uniqueIndex:idx_test_workflow_step,priority:2" json:"workflowId"`
	StepID           uuid.UUID    `gorm:"type:uuid;column:step_id;not null;uniqueIndex:idx_test_workflow_step,priority:3" json:"stepId"`
	SampleTypeID     uuid.UUID    `gorm:"type:uuid;column:sample_type_id;not null;uniqueIndex:idx_test_workflow_step,priority:4" json:"sampleTypeId"`
	ContainerTypeID  uuid.UUID    `gorm:"type:uuid;column:container_type_id;not null;uniqueIndex:idx_test_workflow_step,priority:5" json:"containerTypeId"`
	StepNo           int          `gorm:"column:step_no;not null" json:"stepNo"`
	DepartmentID     *uuid.UUID   `gorm:"type:uuid;column:department_id" json:"departmentId,omitempty"`
	WorkflowType     WorkflowType `gorm:"type:varchar(20);column:workflow_type;not null" json:"workflowType"`
	BackwardMovement bool         `gorm:"column:backward_movement;not null;default:false" json:"backwardMovement"` // Entities may be routed back to this step
}

func (tws *TestWorkflowStep) TableName() string {
	return "test_workflow_steps"
}

// TestWorkflowStepActionMap orders the actions executable at a step.
// Exactly one of WorkflowStepID or TestWorkflowStepID is set.
type TestWorkflowStepActionMap struct {
	BaseModel
	WorkflowStepID     *uuid.UUID   `gorm:"type:uuid;column:workflow_step_id;index" json:"workflowStepId,omitempty"`
	TestWorkflowStepID *uuid.UUID   `gorm:"type:uuid;column:test_workflow_step_id;index" json:"testWorkflowStepId,omitempty"`
	Action             string       `gorm:"type:varchar(100);column:action;not null" json:"action"`
	Sequence           int          `gorm:"column:sequence;not null" json:"sequence"`
	ActionMethod       ActionMethod `gorm:"type:varchar(100);column:action_method;not null" json:"actionMethod"`
}

func (m *TestWorkflowStepActionMap) TableName() string {
	return "test_workflow_step_action_maps"
}
