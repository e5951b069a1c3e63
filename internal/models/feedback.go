package models

import (
	"time"

	"gorm.io/datatypes"
)

// Feedback categories.
const (
	FeedbackGeneral        = "general_feedback"
	FeedbackFeatureRequest = "feature_request"
	FeedbackBugReport      = "bug_report"
	FeedbackUsabilityIssue = "usability_issue"
	FeedbackNPSSurvey      = "nps_survey"
)

// Feedback statuses. The set is closed but transitions between them are unrestricted.
const (
	FeedbackStatusSubmitted  = "submitted"
	FeedbackStatusReviewed   = "reviewed"
	FeedbackStatusInProgress = "in_progress"
	FeedbackStatusCompleted  = "completed"
	FeedbackStatusArchived   = "archived"
)

// Feedback priorities.
const (
	FeedbackPriorityLow      = "low"
	FeedbackPriorityMedium   = "medium"
	FeedbackPriorityHigh     = "high"
	FeedbackPriorityCritical = "critical"
)

var (
	FeedbackCategories = []string{
		FeedbackGeneral,
		FeedbackFeatureRequest,
		FeedbackBugReport,
		FeedbackUsabilityIssue,
		FeedbackNPSSurvey,
	}
	FeedbackStatuses = []string{
		FeedbackStatusSubmitted,
		FeedbackStatusReviewed,
		FeedbackStatusInProgress,
		FeedbackStatusCompleted,
		FeedbackStatusArchived,
	}
	FeedbackPriorities = []string{
		FeedbackPriorityLow,
		FeedbackPriorityMedium,
		FeedbackPriorityHigh,
		FeedbackPriorityCritical,
	}
	SatisfactionLevels = []string{"excellent", "good", "average", "poor", "very_poor"}
	ImprovementAreas   = []string{
		"dashboard", "attendance", "exams", "timetable", "students",
		"reports", "navigation", "mobile", "performance", "other",
	}
)

// FeedbackSubmission is one feedback or NPS response. Optional answers are NULL when absent.
type FeedbackSubmission struct {
	BaseModel

	UserID          string  `gorm:"type:uuid;index;not null" json:"user_id"`
	SchoolID        string  `gorm:"type:uuid;index:idx_feedback_school_created,priority:1;not null" json:"school_id"`
	Category        string  `gorm:"type:varchar(32);index;not null" json:"category"`
	Rating          *int    `json:"rating"`
	NPSScore        *int    `gorm:"column:nps_score" json:"nps_score"`
	Satisfaction    *string `gorm:"type:varchar(16)" json:"satisfaction"`
	Subject         *string `gorm:"type:varchar(255)" json:"subject"`
	Feedback        *string `gorm:"type:text" json:"feedback"`
	FeatureRequest  *string `gorm:"type:text" json:"feature_request"`
	ImprovementArea *string `gorm:"type:varchar(32)" json:"improvement_area"`
	Priority        string  `gorm:"type:varchar(16);default:'medium'" json:"priority"`
	Status          string  `gorm:"type:varchar(16);index;default:'submitted'" json:"status"`

	AdminResponse *string    `gorm:"type:text" json:"admin_response"`
	AdminNotes    *string    `gorm:"type:text" json:"admin_notes"`
	RespondedAt   *time.Time `json:"responded_at"`
	RespondedBy   *string    `gorm:"type:uuid" json:"responded_by"`

	User *UserProfile `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// FeedbackAnalytics is the monthly per-school rollup of feedback submissions.
type FeedbackAnalytics struct {
	BaseModel

	SchoolID    string    `gorm:"type:uuid;uniqueIndex:idx_feedback_analytics_period,priority:1;not null" json:"school_id"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_feedback_analytics_period,priority:2;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	TotalSubmissions int      `json:"total_submissions"`
	AvgRating        *float64 `json:"avg_rating"`
	AvgNPSScore      *float64 `gorm:"column:avg_nps_score" json:"avg_nps_score"`
	NPSPromoters     int      `gorm:"column:nps_promoters" json:"nps_promoters"`
	NPSPassives      int      `gorm:"column:nps_passives" json:"nps_passives"`
	NPSDetractors    int      `gorm:"column:nps_detractors" json:"nps_detractors"`
	NPSPercentage    *float64 `gorm:"column:nps_percentage" json:"nps_percentage"`

	SatisfactionBreakdown datatypes.JSONMap `json:"satisfaction_breakdown"`
	CategoryBreakdown     datatypes.JSONMap `json:"category_breakdown"`
}

func (FeedbackAnalytics) TableName() string {
	return "feedback_analytics"
}
