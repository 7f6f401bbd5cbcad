package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the decision intelligence core.
var (
	// Decision attributes
	AttrDecisionID    = attribute.Key("decivue.decision.id")
	AttrOrganization  = attribute.Key("decivue.organization.id")
	AttrLifecycleFrom = attribute.Key("decivue.lifecycle.from")
	AttrLifecycleTo   = attribute.Key("decivue.lifecycle.to")
	AttrHealthSignal  = attribute.Key("decivue.health.signal")
	AttrTrigger       = attribute.Key("decivue.evaluation.trigger")

	// Urgency attributes
	AttrUrgencyScore = attribute.Key("decivue.urgency.score")

	// Detector attributes
	AttrDetectorName = attribute.Key("decivue.detector.name")
	AttrConflictKind = attribute.Key("decivue.conflict.kind")

	// Governance attributes
	AttrGovernanceAction = attribute.Key("decivue.governance.action")
	AttrActorRole        = attribute.Key("decivue.actor.role")
)

// EvaluationAttrs builds the attribute set for one decision evaluation.
func EvaluationAttrs(orgID, decisionID, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrganization.String(orgID),
		AttrDecisionID.String(decisionID),
		AttrTrigger.String(trigger),
	}
}

// TransitionAttrs builds the attribute set for a lifecycle transition.
func TransitionAttrs(orgID, decisionID string, health int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrganization.String(orgID),
		AttrDecisionID.String(decisionID),
		AttrHealthSignal.Int(health),
	}
}

// DetectorAttrs builds the attribute set for one detector run.
func DetectorAttrs(orgID, detector string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrganization.String(orgID),
		AttrDetectorName.String(detector),
	}
}

// GovernanceAttrs builds the attribute set for a governance action.
func GovernanceAttrs(orgID, action, role string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrganization.String(orgID),
		AttrGovernanceAction.String(action),
		AttrActorRole.String(role),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
