package model

import "github.com/google/uuid"

// AccessionStatus represents the lifecycle of an accession.
type AccessionStatus string

const (
	AccessionStatusActive    AccessionStatus = "ACTIVE"
	AccessionStatusCompleted AccessionStatus = "COMPLETED"
	AccessionStatusCancelled AccessionStatus = "CANCELLED"
)

// Accession is a case/order grouping the samples received for one subject.
type Accession struct {
	BaseModel
	AccessionNo   string          `gorm:"type:varchar(50);column:accession_no;not null;uniqueIndex" json:"accessionNo"`
	AccessionType string          `gorm:"type:varchar(100);column:accession_type;not null" json:"accessionType"`
	SubjectRef    string          `gorm:"type:varchar(255);column:subject_ref;not null" json:"subjectRef"` // Patient MRN or pharma subject identifier
	NotifyEmail   *string         `gorm:"type:varchar(255);column:notify_email" json:"notifyEmail,omitempty"`
	Status        AccessionStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`
	CreatedBy     *string         `gorm:"type:varchar(100);column:created_by" json:"createdBy,omitempty"`

	// Relationships
	Samples []Sample `gorm:"foreignKey:AccessionID;references:ID" json:"samples,omitempty"`
}

func (a *Accession) TableName() string {
	return "accessions"
}

// IsOpen reports whether new work may still be attached to the accession.
func (a *Accession) IsOpen() bool {
	return a.Status == AccessionStatusActive
}

// SampleStatus represents the soft lifecycle of a sample. Samples are never hard-deleted.
type SampleStatus string

const (
	SampleStatusActive    SampleStatus = "ACTIVE"
	SampleStatusCompleted SampleStatus = "COMPLETED"
	SampleStatusCancelled SampleStatus = "CANCELLED"
)

// Sample is a physical specimen or a derived sub-specimen (block, slide).
type Sample struct {
	BaseModel
	AccessionID     uuid.UUID    `gorm:"type:uuid;column:accession_id;not null;index" json:"accessionId"`
	ParentSampleID  *uuid.UUID   `gorm:"type:uuid;column:parent_sample_id;index" json:"parentSampleId,omitempty"`
	RootSampleID    *uuid.UUID   `gorm:"type:uuid;column:root_sample_id;index" json:"rootSampleId,omitempty"` // The accession sample a derived sample descends from; nil for accession samples
	Code            string       `gorm:"type:varchar(100);column:code;not null;uniqueIndex" json:"code"`
	TestID          uuid.UUID    `gorm:"type:uuid;column:test_id;not null" json:"testId"`
	SampleTypeID    uuid.UUID    `gorm:"type:uuid;column:sample_type_id;not null" json:"sampleTypeId"`
	ContainerTypeID uuid.UUID    `gorm:"type:uuid;column:container_type_id;not null" json:"containerTypeId"`
	WorkflowID      *uuid.UUID   `gorm:"type:uuid;column:workflow_id" json:"workflowId,omitempty"` // Sample-level workflow override
	Status          SampleStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`
	RoutingState

	// Relationships
	RootSample *Sample `gorm:"foreignKey:RootSampleID;references:ID" json:"-"`
}

func (s *Sample) TableName() string {
	return "samples"
}

func (s *Sample) EntityID() uuid.UUID {
	return s.ID
}

func (s *Sample) EntityKind() EntityKind {
	return EntityKindSample
}

func (s *Sample) Routing() *RoutingState {
	return &s.RoutingState
}

// IsActive reports whether the sample may still be routed.
func (s *Sample) IsActive() bool {
	return s.Status == SampleStatusActive
}

// Scope returns the resolution scope. A derived sample without its own workflow
// inherits the workflow override of its root sample, which must be preloaded.
func (s *Sample) Scope() RoutingScope {
	workflowID := s.WorkflowID
	if workflowID == nil && s.RootSample != nil {
		workflowID = s.RootSample.WorkflowID
	}
	return RoutingScope{
		WorkflowID:      workflowID,
		TestID:          s.TestID,
		SampleTypeID:    s.SampleTypeID,
		ContainerTypeID: s.ContainerTypeID,
	}
}

// RootID returns the accession sample this sample belongs to (itself for accession samples).
func (s *Sample) RootID() uuid.UUID {
	if s.RootSampleID != nil {
		return *s.RootSampleID
	}
	return s.ID
}
