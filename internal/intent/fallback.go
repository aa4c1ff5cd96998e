package intent

import (
	"regexp"
	"strings"
)

// rule associates keyword patterns with an intent. Rules are evaluated in
// order; the first match wins.
type rule struct {
	intent   Intent
	keywords []string
}

// fallbackRules is the prioritized rule list for the deterministic tier.
// The fallback exists for availability, not precision: every intent must
// remain reachable when the language-understanding provider is down.
var fallbackRules = []rule{
	{IntentCrisisSupport, []string{
		"crisis", "emergency", "suicid", "self harm", "self-harm",
		"hurting himself", "hurting herself", "in danger", "urgent help",
	}},
	{IntentScheduleAppointment, []string{
		"appointment", "schedule", "book", "assessment", "evaluation",
	}},
	{IntentAuthorityRequest, []string{
		"authority", "municipality", "legal request", "submit a request",
		"appeal", "funding request",
	}},
	{IntentGenerateReport, []string{
		"report", "summary", "progress overview",
	}},
	{IntentUpdateProfile, []string{
		"update my", "change my", "profile", "phone number", "new address",
	}},
	{IntentViewInformation, []string{
		"show me", "view", "what is the status", "information about", "details",
	}},
	{IntentGreeting, []string{
		"hello", "hi there", "good morning", "good afternoon", "hey",
	}},
}

var assessmentKeywords = []string{"autism", "adhd", "speech", "developmental", "hearing", "motor"}

var dateReferences = []struct {
	phrase     string
	normalized string
}{
	{"today", "today"},
	{"tomorrow", "tomorrow"},
	{"this week", "this_week"},
	{"next week", "next_week"},
	{"this month", "this_month"},
	{"next month", "next_month"},
}

var forNamePattern = regexp.MustCompile(`\bfor ([A-Z][a-zA-Z]+)\b`)

// Fallback is the deterministic keyword classifier. It never fails: text
// with no matching pattern yields IntentUnknown at minimal confidence.
type Fallback struct{}

// NewFallback creates the deterministic tier.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Classify scans the text against the prioritized rule list and extracts
// parameters with simple pattern rules.
func (f *Fallback) Classify(text string, convCtx Context) Result {
	lowered := strings.ToLower(text)
	for _, r := range fallbackRules {
		for _, keyword := range r.keywords {
			if !strings.Contains(lowered, keyword) {
				continue
			}
			return Result{
				Intent:     r.intent,
				Confidence: FallbackConfidence,
				Params:     extractParams(r.intent, text, lowered, convCtx),
				Tier:       TierFallback,
			}
		}
	}
	return Result{
		Intent:     IntentUnknown,
		Confidence: MinConfidence,
		Tier:       TierFallback,
	}
}

func extractParams(matched Intent, text, lowered string, convCtx Context) map[string]string {
	params := make(map[string]string)

	if name := extractChildName(text, lowered, convCtx); name != "" {
		params["child_name"] = name
	}

	switch matched {
	case IntentScheduleAppointment:
		for _, keyword := range assessmentKeywords {
			if strings.Contains(lowered, keyword) {
				params["assessment_type"] = keyword
				break
			}
		}
		if ref := extractDateReference(lowered); ref != "" {
			params["date_reference"] = ref
		}
	case IntentGenerateReport:
		switch {
		case strings.Contains(lowered, "progress"):
			params["report_type"] = "progress"
		case strings.Contains(lowered, "assessment"):
			params["report_type"] = "assessment"
		}
	case IntentAuthorityRequest:
		switch {
		case strings.Contains(lowered, "funding"):
			params["request_type"] = "funding"
		case strings.Contains(lowered, "appeal"):
			params["request_type"] = "appeal"
		case strings.Contains(lowered, "support"):
			params["request_type"] = "support"
		}
	case IntentUpdateProfile:
		switch {
		case strings.Contains(lowered, "phone"):
			params["field"] = "phone"
		case strings.Contains(lowered, "address"):
			params["field"] = "address"
		case strings.Contains(lowered, "email"):
			params["field"] = "email"
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// extractChildName prefers the session's known-children list, then falls
// back to a "for <Name>" pattern.
func extractChildName(text, lowered string, convCtx Context) string {
	for _, known := range convCtx.KnownChildren {
		trimmed := strings.TrimSpace(known)
		if trimmed == "" {
			continue
		}
		if containsWord(lowered, strings.ToLower(trimmed)) {
			return trimmed
		}
	}
	if match := forNamePattern.FindStringSubmatch(text); len(match) == 2 {
		return match[1]
	}
	return ""
}

func extractDateReference(lowered string) string {
	for _, ref := range dateReferences {
		if strings.Contains(lowered, ref.phrase) {
			return ref.normalized
		}
	}
	return ""
}

func containsWord(haystack, word string) bool {
	index := strings.Index(haystack, word)
	for index >= 0 {
		before := index == 0 || !isLetter(haystack[index-1])
		afterIdx := index + len(word)
		after := afterIdx >= len(haystack) || !isLetter(haystack[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(haystack[index+1:], word)
		if next < 0 {
			return false
		}
		index += 1 + next
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
