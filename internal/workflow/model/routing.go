package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRoutingInfoImmutable is returned when a caller tries to change or remove an audit row.
var ErrRoutingInfoImmutable = errors.New("routing info rows are append-only")

// EntityKind identifies which routable table an entity lives in.
type EntityKind string

const (
	EntityKindSample       EntityKind = "SAMPLE"
	EntityKindReportOption EntityKind = "REPORT_OPTION"
)

// RoutingState is the mutable workflow position carried by samples and report options.
type RoutingState struct {
	CurrentStepID         *uuid.UUID `gorm:"type:uuid;column:current_step_id" json:"currentStepId,omitempty"`
	NextStepID            *uuid.UUID `gorm:"type:uuid;column:next_step_id" json:"nextStepId,omitempty"`
	PendingAction         *string    `gorm:"type:varchar(100);column:pending_action;index" json:"pendingAction,omitempty"`
	CustodialDepartmentID *uuid.UUID `gorm:"type:uuid;column:custodial_department_id" json:"custodialDepartmentId,omitempty"`
	CustodialUserID       *string    `gorm:"type:varchar(100);column:custodial_user_id" json:"custodialUserId,omitempty"`
}

// IsPending reports whether the entity currently waits for action.
func (rs RoutingState) IsPending(action string) bool {
	return rs.PendingAction != nil && *rs.PendingAction == action
}

// RoutingScope carries what step resolution needs to pick between the
// workflow-override path and the test-specific path.
type RoutingScope struct {
	WorkflowID      *uuid.UUID // Sample-level workflow override, nil for the test-specific path
	TestID          uuid.UUID
	SampleTypeID    uuid.UUID
	ContainerTypeID uuid.UUID
}

// Routable is implemented by every entity the step resolver can move through a workflow.
type Routable interface {
	EntityID() uuid.UUID
	EntityKind() EntityKind
	Routing() *RoutingState
	Scope() RoutingScope
	// IsActive is false once the entity is completed or cancelled.
	IsActive() bool
}

// RoutingInfo is an append-only audit row describing one custody or step transition.
type RoutingInfo struct {
	ID               uuid.UUID  `gorm:"type:uuid;column:id;not null;primaryKey" json:"id"`
	EntityKind       EntityKind `gorm:"type:varchar(20);column:entity_kind;not null" json:"entityKind"`
	SampleID         *uuid.UUID `gorm:"type:uuid;column:sample_id;index" json:"sampleId,omitempty"`
	ReportOptionID   *uuid.UUID `gorm:"type:uuid;column:report_option_id;index" json:"reportOptionId,omitempty"`
	FromStepID       *uuid.UUID `gorm:"type:uuid;column:from_step_id" json:"fromStepId,omitempty"`
	ToStepID         *uuid.UUID `gorm:"type:uuid;column:to_step_id" json:"toStepId,omitempty"`
	FromDepartmentID *uuid.UUID `gorm:"type:uuid;column:from_department_id" json:"fromDepartmentId,omitempty"`
	ToDepartmentID   *uuid.UUID `gorm:"type:uuid;column:to_department_id" json:"toDepartmentId,omitempty"`
	FromUserID       *string    `gorm:"type:varchar(100);column:from_user_id" json:"fromUserId,omitempty"`
	ToUserID         *string    `gorm:"type:varchar(100);column:to_user_id" json:"toUserId,omitempty"`
	Action           *string    `gorm:"type:varchar(100);column:action" json:"action,omitempty"`
	PerformedBy      *string    `gorm:"type:varchar(100);column:performed_by" json:"performedBy,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;index" json:"createdAt"`
}

func (ri *RoutingInfo) TableName() string {
	return "routing_infos"
}

// BeforeCreate assigns the identifier and timestamp.
func (ri *RoutingInfo) BeforeCreate(tx *gorm.DB) (err error) {
	if ri.ID == uuid.Nil {
		ri.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	if ri.CreatedAt.IsZero() {
		ri.CreatedAt = time.Now().UTC()
	}
	return
}

// BeforeUpdate rejects every update.
func (ri *RoutingInfo) BeforeUpdate(tx *gorm.DB) error {
	return ErrRoutingInfoImmutable
}

// BeforeDelete rejects every delete.
func (ri *RoutingInfo) BeforeDelete(tx *gorm.DB) error {
	return ErrRoutingInfoImmutable
}

// SequenceCounter holds the last value handed out for a (prefix, model) pair.
type SequenceCounter struct {
	Prefix    string    `gorm:"type:varchar(100);column:prefix;primaryKey" json:"prefix"`
	Model     string    `gorm:"type:varchar(100);column:model;primaryKey" json:"model"`
	LastValue int64     `gorm:"column:last_value;not null;default:0" json:"lastValue"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (sc *SequenceCounter) TableName() string {
	return "sequence_counters"
}
