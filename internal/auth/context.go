package auth

import (
	"github.com/google/uuid"
)

// LabUser is a staff member known to the lab. Users are provisioned out of band;
// the routing engine only needs their identity and home department.
type LabUser struct {
	UserID       string     `gorm:"type:varchar(100);column:user_id;primaryKey;not null" json:"userId"`
	Name         string     `gorm:"type:varchar(255);column:name" json:"name"`
	Email        string     `gorm:"type:varchar(255);column:email" json:"email"`
	DepartmentID *uuid.UUID `gorm:"type:uuid;column:department_id" json:"departmentId,omitempty"`
}

// TableName specifies the database table name for LabUser
func (u *LabUser) TableName() string {
	return "lab_users"
}

// AuthContext represents the authentication context available in a request.
// This is a transient context that is injected into the request by the auth middleware.
type AuthContext struct {
	*LabUser
}

// ActorID returns the user ID recorded as performed_by in audit rows, or "" when unauthenticated.
func (ac *AuthContext) ActorID() string {
	if ac == nil || ac.LabUser == nil {
		return ""
	}
	return ac.UserID
}
