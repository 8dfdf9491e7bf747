// Package protocol defines the envelope exchanged between actors and the
// pub-sub service, and the correlation predicates that select replies and
// notifications from an actor's inbound stream.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// Kind classifies an envelope.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResult       Kind = "result"
	KindError        Kind = "error"
	KindNotification Kind = "notification"
)

// Op names the operation a request asks for.
type Op string

const (
	OpCreate      Op = "create"
	OpDelete      Op = "delete"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPublish     Op = "publish"
	OpItems       Op = "items"
	OpDiscoNodes  Op = "disco_nodes"
	OpDiscoItems  Op = "disco_items"
	OpDiscoInfo   Op = "disco_info"
)

// Mutating reports whether the op changes engine state.
func (o Op) Mutating() bool {
	switch o {
	case OpCreate, OpDelete, OpSubscribe, OpUnsubscribe, OpPublish:
		return true
	}
	return false
}

// Envelope is the envelope for all messages
type Envelope struct {
	ID   string `json:"id,omitempty"`
	Kind Kind   `json:"kind"`
	Op   Op     `json:"op,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Node string `json:"node,omitempty"`

	// Request fields
	Options *model.NodeOptions `json:"options,omitempty"`
	Limit   int                `json:"limit,omitempty"`

	// Publish requests and notifications
	Item *model.Item `json:"item,omitempty"`

	// Result fields
	Items    []model.Item           `json:"items,omitempty"`
	ItemIDs  []string               `json:"itemIds,omitempty"`
	Nodes    []model.NodeDescriptor `json:"nodes,omitempty"`
	Features []string               `json:"features,omitempty"`

	Error *ErrorPayload `json:"error,omitempty"`
	Sent  time.Time     `json:"sent,omitempty"`
}

// Marshal encodes the envelope for the transport.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope received from the transport.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Result builds the success reply to req.
func Result(req Envelope, from string) Envelope {
	return Envelope{
		ID:   req.ID,
		Kind: KindResult,
		Op:   req.Op,
		From: from,
		To:   req.From,
		Node: req.Node,
		Sent: time.Now(),
	}
}

// Failure builds the error reply to req for err.
func Failure(req Envelope, from string, err error) Envelope {
	return Envelope{
		ID:    req.ID,
		Kind:  KindError,
		Op:    req.Op,
		From:  from,
		To:    req.From,
		Node:  req.Node,
		Error: ErrorFor(err),
		Sent:  time.Now(),
	}
}

// Notification builds the event sent to a subscriber for a published item.
func Notification(from, to string, item model.Item) Envelope {
	return Envelope{
		ID:   item.ID,
		Kind: KindNotification,
		Op:   OpPublish,
		From: from,
		To:   to,
		Node: item.Node,
		Item: &item,
		Sent: time.Now(),
	}
}
