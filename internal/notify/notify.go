// Package notify sends automated outbound messages: scheduled appointment
// reminders and event-driven notifications, all rendered through the
// template registry.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carelinehq/careline/internal/actions"
	"github.com/carelinehq/careline/internal/template"
	"github.com/carelinehq/careline/internal/transport"
)

// Reminder periodically looks up upcoming appointments and nudges families
// about them. Deliveries use the channel's registered template by name, with
// the registry render acting as the placeholder check.
type Reminder struct {
	scheduler actions.Scheduler
	templates *template.Registry
	sender    transport.Sender
	cronSpec  string
	lookahead time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewReminder creates the reminder scheduler. It does not start ticking
// until Start.
func NewReminder(log *slog.Logger, scheduler actions.Scheduler, templates *template.Registry, sender transport.Sender, cronSpec string, lookahead time.Duration) *Reminder {
	if log == nil {
		log = slog.Default()
	}
	return &Reminder{
		scheduler: scheduler,
		templates: templates,
		sender:    sender,
		cronSpec:  cronSpec,
		lookahead: lookahead,
		cron:      cron.New(),
		logger:    log.With(slog.String("service", "notify")),
	}
}

// Start schedules the cron job.
func (r *Reminder) Start() error {
	_, err := r.cron.AddFunc(r.cronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("reminder schedule started", slog.String("cron", r.cronSpec))
	return nil
}

// Stop halts the cron scheduler and waits for a running pass to finish.
func (r *Reminder) Stop(ctx context.Context) {
	done := r.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// RunOnce does a single reminder pass. Per-appointment failures are logged
// and the pass continues; one broken number must not silence the rest.
func (r *Reminder) RunOnce(ctx context.Context) {
	appointments, err := r.scheduler.Upcoming(ctx, r.lookahead)
	if err != nil {
		r.logger.Error("upcoming appointments lookup failed", slog.Any("error", err))
		return
	}
	for _, appointment := range appointments {
		params := map[string]string{
			"child_name": appointment.ChildName,
			"date":       appointment.Date,
		}
		rendered, err := r.templates.Render("appointment_reminder", params)
		if err != nil {
			r.logger.Error("reminder render failed",
				slog.String("appointment", appointment.ID),
				slog.Any("error", err))
			continue
		}
		err = r.sender.SendTemplate(ctx, appointment.Identity, rendered.Name, params, string(rendered.Priority))
		if err != nil {
			r.logger.Error("reminder send failed",
				slog.String("appointment", appointment.ID),
				slog.Any("error", err))
			continue
		}
		r.logger.Debug("reminder sent",
			slog.String("identity", appointment.Identity),
			slog.String("appointment", appointment.ID))
	}
}

// Notifier sends one-off event notifications (confirmations, alerts) through
// the same render-then-send path the reminders use.
type Notifier struct {
	templates *template.Registry
	sender    transport.Sender
	logger    *slog.Logger
}

func NewNotifier(log *slog.Logger, templates *template.Registry, sender transport.Sender) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		templates: templates,
		sender:    sender,
		logger:    log.With(slog.String("service", "notify")),
	}
}

// Send renders trigger with params and delivers it to the identity.
func (n *Notifier) Send(ctx context.Context, identity, trigger string, params map[string]string) error {
	rendered, err := n.templates.Render(trigger, params)
	if err != nil {
		return err
	}
	return n.sender.SendText(ctx, identity, rendered.Text)
}
