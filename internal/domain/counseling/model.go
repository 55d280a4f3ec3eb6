package counseling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

const (
	StatusCompleted = "completed"
	StatusRefused   = "refused"
	StatusDeferred  = "deferred"
)

var validStatuses = map[string]bool{
	StatusCompleted: true,
	StatusRefused:   true,
	StatusDeferred:  true,
}

// Counseling topics, in the order they are presented to the pharmacist.
const (
	TopicPurpose            = "Medication Purpose"
	TopicDosing             = "Dosing Instructions"
	TopicRoute              = "Administration Route"
	TopicDuration           = "Duration of Therapy"
	TopicControlled         = "Controlled Substance Precautions"
	TopicStorageSecurity    = "Storage and Security"
	TopicRefrigeration      = "Refrigeration Requirements"
	TopicHazardousHandling  = "Hazardous Drug Handling"
	TopicSpecialPrecautions = "Special Precautions"
	TopicSideEffects        = "Common Side Effects"
	TopicContactProvider    = "When to Contact Provider"
	TopicContraindications  = "Contraindications and Warnings"
)

var topicOrder = []string{
	TopicPurpose, TopicDosing, TopicRoute, TopicDuration,
	TopicControlled, TopicStorageSecurity, TopicRefrigeration,
	TopicHazardousHandling, TopicSpecialPrecautions,
	TopicSideEffects, TopicContactProvider, TopicContraindications,
}

// Session maps to the counseling_session table.
type Session struct {
	ID                uuid.UUID `db:"id" json:"id"`
	PrescriptionID    uuid.UUID `db:"prescription_id" json:"prescription_id"`
	PatientID         string    `db:"patient_id" json:"patient_id"`
	PatientName       *string   `db:"patient_name" json:"patient_name,omitempty"`
	PharmacistID      string    `db:"pharmacist_id" json:"pharmacist_id"`
	PharmacistName    *string   `db:"pharmacist_name" json:"pharmacist_name,omitempty"`
	PharmacistLicense *string   `db:"pharmacist_license" json:"pharmacist_license,omitempty"`
	Topics            []string  `db:"topics" json:"topics"`
	DurationMinutes   int       `db:"duration_minutes" json:"duration_minutes"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	PatientQuestions  *string   `db:"patient_questions" json:"patient_questions,omitempty"`
	PatientUnderstood bool      `db:"patient_understood" json:"patient_understood"`
	Status            string    `db:"status" json:"status"`
	RefusalReason     *string   `db:"refusal_reason" json:"refusal_reason,omitempty"`
	CounselingDate    time.Time `db:"counseling_date" json:"counseling_date"`
}

// Completion compares the topics a prescription needs with the topics
// covered by its completed sessions.
type Completion struct {
	IsRequired      bool     `json:"is_required"`
	IsCompleted     bool     `json:"is_completed"`
	RequiredTopics  []string `json:"required_topics"`
	CompletedTopics []string `json:"completed_topics"`
	MissingTopics   []string `json:"missing_topics"`
}

type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalSessions     int          `json:"total_sessions"`
	CompletedSessions int          `json:"completed_sessions"`
	RefusedSessions   int          `json:"refused_sessions"`
	DeferredSessions  int          `json:"deferred_sessions"`
	AverageDuration   float64      `json:"average_duration"`
	TopTopics         []TopicCount `json:"top_topics"`
}
