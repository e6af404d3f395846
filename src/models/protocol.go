package models

// -----------------------------------------------------------------------------

// MSubscriptionAction is the verb of a client request
type MSubscriptionAction string

const (
	ActionSubscribe   MSubscriptionAction = "subscribe"
	ActionUnsubscribe MSubscriptionAction = "unsubscribe"
)

// -----------------------------------------------------------------------------

// MSubscriptionMessage is the client -> server subscription request
type MSubscriptionMessage struct {
	Action     MSubscriptionAction `json:"action"`
	Securities []string            `json:"securities"`
}

// -----------------------------------------------------------------------------

// MEnvelopeKind classifies a decoded server message
type MEnvelopeKind string

const (
	EnvelopeData    MEnvelopeKind = "data"
	EnvelopeControl MEnvelopeKind = "control"
	EnvelopeError   MEnvelopeKind = "error"
)

// -----------------------------------------------------------------------------

// MControlMessage is an informational server message such as a
// subscription confirmation. It never gates client-side state.
type MControlMessage struct {
	Type       string   `json:"type"`
	Securities []string `json:"securities"`
}

// -----------------------------------------------------------------------------

// MEnvelope is a decoded inbound message. Exactly one of Update, Control
// or Error is meaningful, according to Kind.
type MEnvelope struct {
	Kind    MEnvelopeKind
	Update  *MRawUpdate
	Control *MControlMessage
	Error   string
}
