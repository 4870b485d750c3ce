// Package cluster models the configured collators of one cluster and the state
// observed for each of them during a single health-check pass.
package cluster

import (
	"errors"
	"fmt"

	"github.com/canopy-network/collatorx/pkg/utils"
)

var (
	ErrEmptyNetworkID     = errors.New("empty node network id")
	ErrEmptyURL           = errors.New("empty node url")
	ErrDuplicateNetworkID = errors.New("duplicate node network id")
)

// Node is a configured collator. Priority is its zero-based position in the
// configuration; lower is preferred as backup.
type Node struct {
	NetworkID string
	URL       string
	Priority  int
}

// Registry is the immutable, priority-ordered node list of a run.
type Registry struct {
	nodes []Node
}

// NewRegistry pairs ids and urls positionally.
func NewRegistry(networkIDs, urls []string) (*Registry, error) {
	if len(networkIDs) != len(urls) {
		return nil, fmt.Errorf("%d network ids for %d urls", len(networkIDs), len(urls))
	}
	r := &Registry{nodes: make([]Node, 0, len(networkIDs))}
	seen := make(map[string]struct{}, len(networkIDs))
	for i, id := range networkIDs {
		if id == "" {
			return nil, fmt.Errorf("node %d: %w", i, ErrEmptyNetworkID)
		}
		if urls[i] == "" {
			return nil, fmt.Errorf("node %s: %w", id, ErrEmptyURL)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("node %s: %w", id, ErrDuplicateNetworkID)
		}
		seen[id] = struct{}{}
		r.nodes = append(r.nodes, Node{NetworkID: id, URL: utils.BaseURL(urls[i]), Priority: i})
	}
	return r, nil
}

// Nodes returns a copy of the nodes in priority order.
func (r *Registry) Nodes() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// NetworkIDs returns the ids in priority order.
func (r *Registry) NetworkIDs() []string {
	out := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.NetworkID
	}
	return out
}

func (r *Registry) Len() int { return len(r.nodes) }
