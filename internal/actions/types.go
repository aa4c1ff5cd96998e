// Package actions implements the command handlers behind each intent and the
// client for the domain-services backend they call.
package actions

import (
	"context"
	"time"
)

// Appointment is a scheduled assessment as the backend reports it.
type Appointment struct {
	ID             string `json:"id"`
	Identity       string `json:"identity"`
	ChildName      string `json:"child_name"`
	AssessmentType string `json:"assessment_type"`
	Date           string `json:"date"`
}

// ScheduleRequest books an assessment. RequestKey makes retries safe: the
// backend treats two calls with the same key as one booking.
type ScheduleRequest struct {
	RequestKey     string `json:"request_key"`
	Identity       string `json:"identity"`
	ChildName      string `json:"child_name"`
	AssessmentType string `json:"assessment_type"`
	DateReference  string `json:"date_reference"`
}

// Scheduler books appointments and lists upcoming ones for reminders.
type Scheduler interface {
	Schedule(ctx context.Context, req ScheduleRequest) (Appointment, error)
	Upcoming(ctx context.Context, within time.Duration) ([]Appointment, error)
}

type ReportRequest struct {
	RequestKey string `json:"request_key"`
	Identity   string `json:"identity"`
	ChildName  string `json:"child_name"`
	ReportType string `json:"report_type"`
}

type Report struct {
	Link string `json:"link"`
}

// Reports produces shareable report documents.
type Reports interface {
	Generate(ctx context.Context, req ReportRequest) (Report, error)
}

type AuthorityRequest struct {
	RequestKey  string `json:"request_key"`
	Identity    string `json:"identity"`
	RequestType string `json:"request_type"`
	Details     string `json:"details,omitempty"`
}

type AuthorityReceipt struct {
	Reference string `json:"reference"`
}

// Authority files formal requests with the municipal authority. Submissions
// cannot be withdrawn once filed, hence the confirmation gate upstream.
type Authority interface {
	Submit(ctx context.Context, req AuthorityRequest) (AuthorityReceipt, error)
}

type ProfileUpdate struct {
	RequestKey string `json:"request_key"`
	Identity   string `json:"identity"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// Profiles manages family contact details and renders account summaries.
type Profiles interface {
	Update(ctx context.Context, update ProfileUpdate) error
	Summary(ctx context.Context, identity string) (string, error)
}

type CrisisAlert struct {
	RequestKey string `json:"request_key"`
	Identity   string `json:"identity"`
	Message    string `json:"message,omitempty"`
}

// Alerts notifies on-call coordinators about urgent messages.
type Alerts interface {
	Escalate(ctx context.Context, alert CrisisAlert) error
}
