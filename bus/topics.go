// Package bus carries envelopes between the isolated execution contexts over
// watermill pub/sub. Each context owns exactly one inbound topic; there is no
// shared memory and no ordering guarantee across topics, so the request id is
// the only correlation mechanism.
package bus

const (
	TopicPageToRelay       = "bifrost.page_to_relay"
	TopicRelayToPage       = "bifrost.relay_to_page"
	TopicRelayToInjected   = "bifrost.relay_to_injected"
	TopicInjectedToRelay   = "bifrost.injected_to_relay"
	TopicRelayToBackground = "bifrost.relay_to_background"
	TopicBackgroundToRelay = "bifrost.background_to_relay"

	// TopicSessionEvents fans session-changed broadcasts out to every
	// interested context and, through redis streams, to other instances.
	TopicSessionEvents = "bifrost.session_events"
)

// MetaOrigin is the message metadata key carrying the sender's origin. The
// relay silently drops messages whose origin does not match its own.
const MetaOrigin = "origin"
