package model

import (
	"time"

	"github.com/google/uuid"
)

// CreateSampleDTO describes one accession sample to register.
type CreateSampleDTO struct {
	TestID          uuid.UUID  `json:"testId" validate:"required"`
	SampleTypeID    uuid.UUID  `json:"sampleTypeId" validate:"required"`
	ContainerTypeID uuid.UUID  `json:"containerTypeId" validate:"required"`
	WorkflowID      *uuid.UUID `json:"workflowId,omitempty"` // Optional sample-level workflow override
}

// CreateAccessionDTO is the data transfer object for accessioning a new case.
type CreateAccessionDTO struct {
	AccessionType string            `json:"accessionType" validate:"required,max=100"`
	SubjectRef    string            `json:"subjectRef" validate:"required,max=255"`
	NotifyEmail   *string           `json:"notifyEmail,omitempty" validate:"omitempty,email"`
	Samples       []CreateSampleDTO `json:"samples" validate:"required,min=1,dive"`
}

// ActionParams carries optional, action-specific inputs.
type ActionParams struct {
	SlideCount int     `json:"slideCount,omitempty" validate:"omitempty,min=1,max=50"` // Slides cut per block during microtomy
	AssignTo   *string `json:"assignTo,omitempty" validate:"omitempty,max=100"`        // Pathologist user ID for assignment
}

// ExecuteActionDTO is the request body for running an action on a batch of entities.
type ExecuteActionDTO struct {
	IDs    []uuid.UUID  `json:"ids" validate:"required,min=1,max=500"`
	Params ActionParams `json:"params"`
}

// RouteEntityDTO manually moves custody or position of a single entity.
type RouteEntityDTO struct {
	StepID       *uuid.UUID `json:"stepId,omitempty"`
	DepartmentID *uuid.UUID `json:"departmentId,omitempty"`
	UserID       *string    `json:"userId,omitempty" validate:"omitempty,max=100"`
}

// RoutingInfoResponseDTO is one audit row as exposed over the API.
type RoutingInfoResponseDTO struct {
	ID               uuid.UUID  `json:"id"`
	FromStepID       *uuid.UUID `json:"fromStepId,omitempty"`
	ToStepID         *uuid.UUID `json:"toStepId,omitempty"`
	FromDepartmentID *uuid.UUID `json:"fromDepartmentId,omitempty"`
	ToDepartmentID   *uuid.UUID `json:"toDepartmentId,omitempty"`
	FromUserID       *string    `json:"fromUserId,omitempty"`
	ToUserID         *string    `json:"toUserId,omitempty"`
	Action           *string    `json:"action,omitempty"`
	PerformedBy      *string    `json:"performedBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// RoutingHistoryResult is a paginated slice of audit rows, oldest first.
type RoutingHistoryResult struct {
	TotalCount int64                    `json:"totalCount"`
	Items      []RoutingInfoResponseDTO `json:"items"`
	Offset     int                      `json:"offset"`
	Limit      int                      `json:"limit"`
}

// SampleListResult represents a page of samples.
type SampleListResult struct {
	TotalCount int64    `json:"totalCount"`
	Items      []Sample `json:"items"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
}

// ReportOptionListResult represents a page of report options.
type ReportOptionListResult struct {
	TotalCount int64          `json:"totalCount"`
	Items      []ReportOption `json:"items"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}
