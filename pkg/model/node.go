package model

import (
	"regexp"
	"strings"
	"time"
)

const (
	// RootNode is the discovery parent that covers every node.
	RootNode = ""

	// NodeSeparator splits hierarchical node identifiers.
	NodeSeparator = "/"
)

var nodeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:@/]{1,256}$`)

// CheckNodeID reports whether id is a usable node identifier.
// Empty segments ("a//b", "/a", "a/") are rejected.
func CheckNodeID(id string) bool {
	if !nodeIDRegex.MatchString(id) {
		return false
	}
	for _, seg := range strings.Split(id, NodeSeparator) {
		if seg == "" {
			return false
		}
	}
	return true
}

// NodeOptions is the configuration supplied with a create request.
type NodeOptions struct {
	// Persistent defaults to true when nil.
	Persistent *bool `json:"persistent,omitempty" yaml:"persistent,omitempty"`
	// MaxItems <= 0 selects the server default.
	MaxItems int `json:"maxItems,omitempty" yaml:"max_items,omitempty"`
}

// Bool returns a pointer to b, for use in NodeOptions literals.
func Bool(b bool) *bool { return &b }

// Node is a live topic known to the registry.
type Node struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Persistent bool      `json:"persistent"`
	MaxItems   int       `json:"maxItems"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Descriptor returns the discovery view of the node.
func (n Node) Descriptor() NodeDescriptor {
	return NodeDescriptor{
		ID:         n.ID,
		Name:       NodeName(n.ID),
		Owner:      n.Owner,
		Persistent: n.Persistent,
	}
}

// NodeDescriptor is what discovery returns for a node.
type NodeDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	Persistent bool   `json:"persistent"`
}

// NodeName returns the last segment of a hierarchical node id.
func NodeName(id string) string {
	if i := strings.LastIndex(id, NodeSeparator); i >= 0 {
		return id[i+1:]
	}
	return id
}

// IsDescendant reports whether id is nested under parent.
// Every node is a descendant of RootNode.
func IsDescendant(id, parent string) bool {
	if parent == RootNode {
		return true
	}
	return strings.HasPrefix(id, strings.TrimSuffix(parent, NodeSeparator)+NodeSeparator)
}
