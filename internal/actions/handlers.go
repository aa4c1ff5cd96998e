package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carelinehq/careline/internal/dispatch"
	"github.com/carelinehq/careline/internal/intent"
)

// GreetingHandler answers hellos with the capabilities overview.
type GreetingHandler struct{}

func NewGreetingHandler() *GreetingHandler { return &GreetingHandler{} }

func (h *GreetingHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{Intent: intent.IntentGreeting}
}

func (h *GreetingHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	return dispatch.Reply{Trigger: "greeting"}, nil
}

// ScheduleHandler books assessment appointments through the scheduler.
type ScheduleHandler struct {
	scheduler Scheduler
}

func NewScheduleHandler(scheduler Scheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler}
}

func (h *ScheduleHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{
		Intent: intent.IntentScheduleAppointment,
		Required: []dispatch.Slot{
			{Name: "child_name", Question: "Which child is the appointment for?"},
			{Name: "assessment_type", Question: "What kind of assessment do you need (for example autism, speech, ADHD)?"},
			{Name: "date_reference", Question: "When would you like the appointment?"},
		},
		Effectful: true,
		Summarize: func(params map[string]string) string {
			return fmt.Sprintf("schedule a %s assessment for %s (%s)",
				params["assessment_type"], params["child_name"], params["date_reference"])
		},
	}
}

func (h *ScheduleHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	appointment, err := h.scheduler.Schedule(ctx, ScheduleRequest{
		RequestKey:     req.IdempotencyKey,
		Identity:       req.Identity,
		ChildName:      req.Params["child_name"],
		AssessmentType: req.Params["assessment_type"],
		DateReference:  req.Params["date_reference"],
	})
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{
		Trigger: "appointment_scheduled",
		Params: map[string]string{
			"assessment_type": appointment.AssessmentType,
			"child_name":      appointment.ChildName,
			"date":            appointment.Date,
		},
		SetContext: map[string]string{"active_child": appointment.ChildName},
	}, nil
}

// ReportHandler generates report documents.
type ReportHandler struct {
	reports Reports
}

func NewReportHandler(reports Reports) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{
		Intent: intent.IntentGenerateReport,
		Required: []dispatch.Slot{
			{Name: "report_type", Question: "Which report do you need, progress or assessment?"},
			{Name: "child_name", Question: "Which child is the report about?"},
		},
		Effectful: true,
		Summarize: func(params map[string]string) string {
			return fmt.Sprintf("generate a %s report for %s", params["report_type"], params["child_name"])
		},
	}
}

func (h *ReportHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	report, err := h.reports.Generate(ctx, ReportRequest{
		RequestKey: req.IdempotencyKey,
		Identity:   req.Identity,
		ChildName:  req.Params["child_name"],
		ReportType: req.Params["report_type"],
	})
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{
		Trigger: "report_ready",
		Params: map[string]string{
			"report_type": req.Params["report_type"],
			"child_name":  req.Params["child_name"],
			"link":        report.Link,
		},
	}, nil
}

// AuthorityHandler files formal requests. Irreversible: filings cannot be
// withdrawn, so the dispatcher gates this one behind confirmation.
type AuthorityHandler struct {
	authority Authority
}

func NewAuthorityHandler(authority Authority) *AuthorityHandler {
	return &AuthorityHandler{authority: authority}
}

func (h *AuthorityHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{
		Intent: intent.IntentAuthorityRequest,
		Required: []dispatch.Slot{
			{Name: "request_type", Question: "What kind of request is this, funding, appeal, or support?"},
		},
		Effectful:    true,
		Irreversible: true,
		Summarize: func(params map[string]string) string {
			return fmt.Sprintf("submit a %s request to the authority", params["request_type"])
		},
	}
}

func (h *AuthorityHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	receipt, err := h.authority.Submit(ctx, AuthorityRequest{
		RequestKey:  req.IdempotencyKey,
		Identity:    req.Identity,
		RequestType: req.Params["request_type"],
		Details:     req.Params["details"],
	})
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{
		Trigger: "authority_submitted",
		Params: map[string]string{
			"request_type": req.Params["request_type"],
			"reference":    receipt.Reference,
		},
	}, nil
}

// ProfileHandler updates family contact details.
type ProfileHandler struct {
	profiles Profiles
}

func NewProfileHandler(profiles Profiles) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{
		Intent: intent.IntentUpdateProfile,
		Required: []dispatch.Slot{
			{Name: "field", Question: "Which detail should I update, phone, address, or email?"},
			{Name: "new_value", Question: "What should the new value be?"},
		},
		Effectful: true,
		Summarize: func(params map[string]string) string {
			return fmt.Sprintf("update your %s to %q", params["field"], params["new_value"])
		},
	}
}

func (h *ProfileHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	err := h.profiles.Update(ctx, ProfileUpdate{
		RequestKey: req.IdempotencyKey,
		Identity:   req.Identity,
		Field:      req.Params["field"],
		Value:      req.Params["new_value"],
	})
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{
		Trigger: "profile_updated",
		Params:  map[string]string{"field": req.Params["field"]},
	}, nil
}

// ViewHandler answers read-only account questions.
type ViewHandler struct {
	profiles Profiles
}

func NewViewHandler(profiles Profiles) *ViewHandler {
	return &ViewHandler{profiles: profiles}
}

func (h *ViewHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{Intent: intent.IntentViewInformation}
}

func (h *ViewHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	summary, err := h.profiles.Summary(ctx, req.Identity)
	if err != nil {
		return dispatch.Reply{}, err
	}
	return dispatch.Reply{
		Trigger: "information",
		Params:  map[string]string{"details": summary},
	}, nil
}

// CrisisHandler escalates urgent messages. It never gates on confirmation
// and always answers with the hotline, even when escalation itself fails.
type CrisisHandler struct {
	alerts  Alerts
	hotline string
	logger  *slog.Logger
}

func NewCrisisHandler(log *slog.Logger, alerts Alerts, hotline string) *CrisisHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CrisisHandler{
		alerts:  alerts,
		hotline: hotline,
		logger:  log.With(slog.String("service", "crisis")),
	}
}

func (h *CrisisHandler) Describe() dispatch.Descriptor {
	return dispatch.Descriptor{Intent: intent.IntentCrisisSupport}
}

func (h *CrisisHandler) Handle(ctx context.Context, req dispatch.Request) (dispatch.Reply, error) {
	err := h.alerts.Escalate(ctx, CrisisAlert{
		RequestKey: req.IdempotencyKey,
		Identity:   req.Identity,
	})
	if err != nil {
		h.logger.Error("crisis escalation failed",
			slog.String("identity", req.Identity),
			slog.Any("error", err))
	}
	return dispatch.Reply{
		Trigger: "crisis_support",
		Params:  map[string]string{"hotline": h.hotline},
	}, nil
}

// NewRegistry wires every handler into a dispatch registry.
func NewRegistry(log *slog.Logger, scheduler Scheduler, reports Reports, authority Authority, profiles Profiles, alerts Alerts, hotline string) *dispatch.Registry {
	registry := dispatch.NewRegistry()
	registry.MustRegister(
		NewGreetingHandler(),
		NewScheduleHandler(scheduler),
		NewReportHandler(reports),
		NewAuthorityHandler(authority),
		NewProfileHandler(profiles),
		NewViewHandler(profiles),
		NewCrisisHandler(log, alerts, hotline),
	)
	return registry
}
