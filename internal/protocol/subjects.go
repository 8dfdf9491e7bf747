package protocol

import (
	"encoding/base64"
	"strings"
)

// DefaultPrefix is the subject prefix and JetStream stream name.
const DefaultPrefix = "NODESTREAM"

// ServiceSubject is the relative subject requests are published on.
const ServiceSubject = "service"

const inboxSegment = "actor"

// InboxSubject returns the relative subject of actor's inbox. Identities are
// base64url encoded so any identity is a single subject token.
func InboxSubject(actor string) string {
	return inboxSegment + "." + base64.RawURLEncoding.EncodeToString([]byte(actor))
}

// ActorFromInbox reverses InboxSubject on a relative or prefixed subject.
func ActorFromInbox(subject string) (string, bool) {
	i := strings.LastIndex(subject, inboxSegment+".")
	if i < 0 || (i > 0 && subject[i-1] != '.') {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(subject[i+len(inboxSegment)+1:])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Qualify prepends prefix to a relative subject.
func Qualify(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
