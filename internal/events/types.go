// Package events provides event types and subject-naming utilities for
// the fleet control plane's event bus: the Fleet Manager is the only
// publisher, and every typed event it emits (§4.13) travels under a
// subject built by the helpers here so an observer can subscribe either
// to one agent's traffic or to the whole fleet.
package events

import "github.com/ikido/fleetctl/pkg/api"

// fleetSubjectPrefix roots every fleet event subject, keeping the
// namespace free for other NATS traffic sharing the same cluster.
const fleetSubjectPrefix = "fleet."

// JobSubject returns the fully scoped subject one typed event (an
// api.Event* constant) for agentName is published under, e.g.
// "fleet.agent.coder.job.completed".
func JobSubject(agentName, eventType string) string {
	return fleetSubjectPrefix + "agent." + agentName + "." + eventType
}

// AgentWildcardSubject subscribes to every event the Fleet Manager
// publishes for a single agent, regardless of event type.
func AgentWildcardSubject(agentName string) string {
	return fleetSubjectPrefix + "agent." + agentName + ".>"
}

// FleetWildcardSubject subscribes to every event published across every
// agent in the fleet.
const FleetWildcardSubject = fleetSubjectPrefix + "agent.>"

// KnownEventTypes lists every api.Event* type the Fleet Manager can
// publish.
var KnownEventTypes = []string{
	api.EventJobQueued,
	api.EventJobStarted,
	api.EventJobCompleted,
	api.EventJobFailed,
	api.EventJobOutput,
	api.EventChatMessageHandled,
	api.EventChatMessageError,
	api.EventSessionLifecycle,
	api.EventContextHandoffStart,
	api.EventContextHandoffDone,
	api.EventWebhookReceived,
	api.EventWorkSourceClaimFailed,
}
