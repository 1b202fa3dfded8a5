package model

import "github.com/google/uuid"

// ReportOptionStatus represents the lifecycle of a report option.
type ReportOptionStatus string

const (
	ReportOptionStatusOpen      ReportOptionStatus = "OPEN"
	ReportOptionStatusCompleted ReportOptionStatus = "COMPLETED"
	ReportOptionStatusCancelled ReportOptionStatus = "CANCELLED"
)

// ReportOption is a reportable unit of work for one (accession, root sample, test).
// It is created by the wet-lab completion cascade and routed through dry-lab steps.
type ReportOption struct {
	BaseModel
	AccessionID     uuid.UUID          `gorm:"type:uuid;column:accession_id;not null;index:idx_report_option_open,priority:1" json:"accessionId"`
	RootSampleID    uuid.UUID          `gorm:"type:uuid;column:root_sample_id;not null;index:idx_report_option_open,priority:2" json:"rootSampleId"`
	TestID          uuid.UUID          `gorm:"type:uuid;column:test_id;not null;index:idx_report_option_open,priority:3" json:"testId"`
	SampleTypeID    uuid.UUID          `gorm:"type:uuid;column:sample_type_id;not null" json:"sampleTypeId"`
	ContainerTypeID uuid.UUID          `gorm:"type:uuid;column:container_type_id;not null" json:"containerTypeId"`
	WorkflowID      *uuid.UUID         `gorm:"type:uuid;column:workflow_id" json:"workflowId,omitempty"` // Set when the samples followed a workflow override
	Methodology     string             `gorm:"type:varchar(100);column:methodology" json:"methodology"`
	Status          ReportOptionStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`
	ReportKey       *string            `gorm:"type:varchar(512);column:report_key" json:"reportKey,omitempty"` // Storage key of the signed-out report
	RoutingState

	// Relationships
	Details []ReportOptionDetail `gorm:"foreignKey:ReportOptionID;references:ID" json:"details,omitempty"`
}

func (ro *ReportOption) TableName() string {
	return "report_options"
}

func (ro *ReportOption) EntityID() uuid.UUID {
	return ro.ID
}

func (ro *ReportOption) EntityKind() EntityKind {
	return EntityKindReportOption
}

func (ro *ReportOption) Routing() *RoutingState {
	return &ro.RoutingState
}

func (ro *ReportOption) IsActive() bool {
	return ro.Status == ReportOptionStatusOpen
}

func (ro *ReportOption) Scope() RoutingScope {
	return RoutingScope{
		WorkflowID:      ro.WorkflowID,
		TestID:          ro.TestID,
		SampleTypeID:    ro.SampleTypeID,
		ContainerTypeID: ro.ContainerTypeID,
	}
}

// ReportOptionDetail links a report option to a sample whose wet-lab work feeds it.
type ReportOptionDetail struct {
	BaseModel
	ReportOptionID uuid.UUID `gorm:"type:uuid;column:report_option_id;not null;uniqueIndex:idx_report_option_detail,priority:1" json:"reportOptionId"`
	SampleID       uuid.UUID `gorm:"type:uuid;column:sample_id;not null;uniqueIndex:idx_report_option_detail,priority:2" json:"sampleId"`
}

func (d *ReportOptionDetail) TableName() string {
	return "report_option_details"
}
