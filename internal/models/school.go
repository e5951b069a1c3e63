package models

// School is the tenancy root; every profile and feedback row belongs to exactly one.
type School struct {
	BaseModel

	Name string `gorm:"not null" json:"name"`
	Code string `gorm:"uniqueIndex;size:32" json:"code"`
}
