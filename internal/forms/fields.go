package forms

import (
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/services"
)

// Field names one input of the feedback form.
type Field string

const (
	FieldNPSScore        Field = "nps_score"
	FieldRating          Field = "rating"
	FieldSatisfaction    Field = "satisfaction"
	FieldSubject         Field = "subject"
	FieldFeedback        Field = "feedback"
	FieldFeatureRequest  Field = "feature_request"
	FieldImprovementArea Field = "improvement_area"
	FieldPriority        Field = "priority"
)

// FieldSet lists the inputs shown for a category, in display order, and which of
// them must be filled in.
type FieldSet struct {
	Visible  []Field
	Required []Field
}

// Shows reports whether field is visible.
func (s FieldSet) Shows(field Field) bool {
	return containsField(s.Visible, field)
}

// Requires reports whether field must be answered.
func (s FieldSet) Requires(field Field) bool {
	return containsField(s.Required, field)
}

// FieldsFor returns the inputs of the feedback form for category. Unknown
// categories show nothing.
func FieldsFor(category string) FieldSet {
	if category == models.FeedbackNPSSurvey {
		return FieldSet{
			Visible:  []Field{FieldNPSScore, FieldFeedback},
			Required: []Field{FieldNPSScore},
		}
	}
	if !contains(models.FeedbackCategories, category) {
		return FieldSet{}
	}

	visible := []Field{FieldRating, FieldSatisfaction}
	switch category {
	case models.FeedbackBugReport, models.FeedbackFeatureRequest:
		visible = append(visible, FieldSubject, FieldPriority)
	case models.FeedbackUsabilityIssue:
		visible = append(visible, FieldImprovementArea)
	}
	visible = append(visible, FieldFeedback)
	if category == models.FeedbackFeatureRequest {
		visible = append(visible, FieldFeatureRequest)
	}
	return FieldSet{Visible: visible, Required: []Field{FieldFeedback}}
}

// stripHidden clears answers to inputs the category does not show, so they are
// stored as NULL.
func stripHidden(input services.SubmitFeedbackInput) services.SubmitFeedbackInput {
	fields := FieldsFor(input.Category)
	if !fields.Shows(FieldNPSScore) {
		input.NPSScore = nil
	}
	if !fields.Shows(FieldRating) {
		input.Rating = nil
	}
	if !fields.Shows(FieldSatisfaction) {
		input.Satisfaction = ""
	}
	if !fields.Shows(FieldSubject) {
		input.Subject = ""
	}
	if !fields.Shows(FieldFeedback) {
		input.Feedback = ""
	}
	if !fields.Shows(FieldFeatureRequest) {
		input.FeatureRequest = ""
	}
	if !fields.Shows(FieldImprovementArea) {
		input.ImprovementArea = ""
	}
	if !fields.Shows(FieldPriority) {
		input.Priority = ""
	}
	return input
}

func containsField(fields []Field, target Field) bool {
	for _, field := range fields {
		if field == target {
			return true
		}
	}
	return false
}
