// Package intent classifies inbound message text into a closed set of
// intents using a primary language-understanding call with a deterministic
// pattern fallback.
package intent

import "strings"

// Intent is the classified purpose of a user message. The set is closed:
// adding an intent means touching the dispatcher's registration, which the
// compiler checks, instead of growing a stringly-typed map.
type Intent string

const (
	IntentUnknown             Intent = "unknown"
	IntentGreeting            Intent = "greeting"
	IntentScheduleAppointment Intent = "schedule_appointment"
	IntentGenerateReport      Intent = "generate_report"
	IntentAuthorityRequest    Intent = "authority_request"
	IntentUpdateProfile       Intent = "update_profile"
	IntentViewInformation     Intent = "view_information"
	IntentCrisisSupport       Intent = "crisis_support"
)

// All lists every dispatchable intent, in fallback priority order. Crisis
// support outranks everything else on purpose.
var All = []Intent{
	IntentCrisisSupport,
	IntentScheduleAppointment,
	IntentAuthorityRequest,
	IntentGenerateReport,
	IntentUpdateProfile,
	IntentViewInformation,
	IntentGreeting,
}

func (i Intent) String() string {
	return string(i)
}

// Parse maps a provider-supplied intent name onto the closed set, returning
// IntentUnknown for anything it does not recognize.
func Parse(raw string) Intent {
	candidate := Intent(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range All {
		if candidate == known {
			return known
		}
	}
	return IntentUnknown
}
