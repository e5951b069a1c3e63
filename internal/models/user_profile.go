package models

// Profile roles.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleTeacher    = "teacher"
	RoleStudent    = "student"
	RoleParent     = "parent"
	RoleStaff      = "staff"
)

// ProfileRoles lists every accepted profile role.
var ProfileRoles = []string{RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleStaff}

// UserProfile links an identity-provider user id to a school and role.
// The ID is the subject of the identity token, not a generated value.
type UserProfile struct {
	BaseModel

	FullName string `gorm:"not null" json:"full_name"`
	Email    string `gorm:"index" json:"email"`
	Role     string `gorm:"size:32;not null;index" json:"role"`
	SchoolID string `gorm:"type:uuid;index" json:"school_id"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	School *School `gorm:"foreignKey:SchoolID" json:"school,omitempty"`
}

// IsAdmin reports whether the profile may use school administration endpoints.
func (p UserProfile) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}
