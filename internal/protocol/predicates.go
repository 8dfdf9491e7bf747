package protocol

import "github.com/syntrixbase/nodestream/internal/correlation"

// Predicate selects envelopes from an actor's inbound stream.
type Predicate = correlation.Predicate[Envelope]

// IsKind matches envelopes of kind k.
func IsKind(k Kind) Predicate {
	return func(e Envelope) bool { return e.Kind == k }
}

var (
	IsResult       = IsKind(KindResult)
	IsError        = IsKind(KindError)
	IsNotification = IsKind(KindNotification)
)

// IsReply matches results and errors.
func IsReply() Predicate {
	return correlation.Or(IsResult, IsError)
}

// From matches envelopes sent by identity.
func From(identity string) Predicate {
	return func(e Envelope) bool { return e.From == identity }
}

// ForRequest matches replies correlated to request id.
func ForRequest(id string) Predicate {
	return func(e Envelope) bool { return e.ID == id }
}

// ForNode matches envelopes about node.
func ForNode(node string) Predicate {
	return func(e Envelope) bool { return e.Node == node }
}

// ReplyTo matches the single terminal outcome for request id sent by service.
func ReplyTo(service, id string) Predicate {
	return correlation.And(IsReply(), From(service), ForRequest(id))
}

// NotificationFrom matches notifications from service about node.
func NotificationFrom(service, node string) Predicate {
	return correlation.And(IsNotification, From(service), ForNode(node))
}
