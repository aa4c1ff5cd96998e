package intent

import "context"

// SourceTier identifies which classification tier produced a result.
type SourceTier string

const (
	TierPrimary  SourceTier = "primary"
	TierFallback SourceTier = "fallback"
)

const (
	// FallbackConfidence is the fixed confidence assigned to every fallback
	// result. It sits below the dispatcher's auto-execute threshold so
	// fallback results always prefer clarifying questions over silent
	// execution, and it doubles as the acceptance floor for primary results.
	FallbackConfidence = 0.40
	// MinConfidence is assigned when no pattern matches at all.
	MinConfidence = 0.05
)

// Result is the uniform classification output of both tiers. Confidence is
// always defined, including for fallback results.
type Result struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params,omitempty"`
	Tier       SourceTier        `json:"tier"`
}

// Param returns the named parameter or "".
func (r Result) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// ContextTurn is one prior conversation turn passed to the classifier.
type ContextTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Context is the bounded slice of conversation state the classifier may use:
// recent turns plus active-entity hints from the session.
type Context struct {
	Turns         []ContextTurn `json:"turns,omitempty"`
	ActiveChild   string        `json:"active_child,omitempty"`
	KnownChildren []string      `json:"known_children,omitempty"`
	LastIntent    string        `json:"last_intent,omitempty"`
}

// PrimaryClassifier is the language-understanding collaborator. It may fail;
// the Classifier absorbs failures into the fallback tier.
type PrimaryClassifier interface {
	Classify(ctx context.Context, text string, convCtx Context) (Result, error)
}
