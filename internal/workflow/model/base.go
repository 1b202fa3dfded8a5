package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel defines the common identity and timestamp columns shared by lab entities.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;column:id;not null;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// BeforeCreate is a GORM hook that is triggered before a new record is created.
func (base *BaseModel) BeforeCreate(tx *gorm.DB) (err error) {
	if base.ID == uuid.Nil {
		base.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	base.CreatedAt = time.Now().UTC()
	base.UpdatedAt = time.Now().UTC()
	return
}

// BeforeUpdate is a GORM hook that is triggered before an existing record is updated.
func (base *BaseModel) BeforeUpdate(tx *gorm.DB) (err error) {
	base.UpdatedAt = time.Now().UTC()
	return
}

// UUIDPtr returns a pointer to a copy of id.
func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Models lists every persistent type of the workflow domain, in migration order.
func Models() []any {
	return []any{
		&Department{},
		&Step{},
		&Test{},
		&SampleType{},
		&ContainerType{},
		&Workflow{},
		&WorkflowStep{},
		&TestWorkflowStep{},
		&TestWorkflowStepActionMap{},
		&Accession{},
		&Sample{},
		&ReportOption{},
		&ReportOptionDetail{},
		&RoutingInfo{},
		&SequenceCounter{},
	}
}
