package authz

// Actions checked by the engine.
const (
	ActionCreate      = "create"
	ActionDelete      = "delete"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
	ActionItems       = "items"
)

// RuleSet is the YAML rules document. Allow keys may list several
// actions separated by commas; "write" and "read" expand to groups.
type RuleSet struct {
	Version string            `json:"rules_version" yaml:"rules_version"`
	Allow   map[string]string `json:"allow" yaml:"allow"`
}

// Request describes the operation under evaluation.
type Request struct {
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Node   string `json:"node"`
}
