package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Substrate telemetry feed actions the decoder cares about.
const (
	actionFeedVersion   = 0
	actionAddedNode     = 3
	actionRemovedNode   = 4
	actionImportedBlock = 6
)

// Positions inside the AddedNode payload and its nested arrays.
const (
	addedNodeDetails = 1
	addedNodeBlock   = 5

	detailsName      = 0
	detailsNetworkID = 4

	blockHeight = 0
)

type feedNode struct {
	networkID string
	name      string
}

// feedDecoder turns feed frames into reports. Feed messages reference nodes by
// a connection-local numeric id, so it keeps the id table of one connection.
type feedDecoder struct {
	nodes map[uint64]feedNode
}

func newFeedDecoder() *feedDecoder {
	return &feedDecoder{nodes: map[uint64]feedNode{}}
}

// decode parses one frame: a flat JSON array of alternating action and payload.
func (d *feedDecoder) decode(frame []byte) ([]Report, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(frame, &items); err != nil {
		return nil, fmt.Errorf("frame is not a json array: %w", err)
	}
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("frame has %d items, want action/payload pairs", len(items))
	}

	var out []Report
	for i := 0; i < len(items); i += 2 {
		var action int
		if err := json.Unmarshal(items[i], &action); err != nil {
			return out, fmt.Errorf("action at %d: %w", i, err)
		}
		payload := items[i+1]

		switch action {
		case actionAddedNode:
			if r, ok := d.addedNode(payload); ok {
				out = append(out, r)
			}
		case actionImportedBlock:
			if r, ok := d.importedBlock(payload); ok {
				out = append(out, r)
			}
		case actionRemovedNode:
			var id uint64
			if err := json.Unmarshal(payload, &id); err == nil {
				delete(d.nodes, id)
			}
		}
	}
	return out, nil
}

// addedNode payload: [id, details, stats, io, hardware, blockDetails, location, startupTime]
// details: [name, implementation, version, validator, networkId, ...]
func (d *feedDecoder) addedNode(payload json.RawMessage) (Report, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || len(fields) <= addedNodeBlock {
		return Report{}, false
	}
	var id uint64
	if err := json.Unmarshal(fields[0], &id); err != nil {
		return Report{}, false
	}

	var details []json.RawMessage
	if err := json.Unmarshal(fields[addedNodeDetails], &details); err != nil || len(details) <= detailsNetworkID {
		return Report{}, false
	}
	var node feedNode
	_ = json.Unmarshal(details[detailsName], &node.name)
	// networkId may be null for nodes that do not expose it.
	_ = json.Unmarshal(details[detailsNetworkID], &node.networkID)
	d.nodes[id] = node

	return Report{
		NetworkID: node.networkID,
		NodeName:  node.name,
		Block:     parseBlockDetails(fields[addedNodeBlock]),
	}, true
}

// importedBlock payload: [id, blockDetails]
func (d *feedDecoder) importedBlock(payload json.RawMessage) (Report, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || len(fields) < 2 {
		return Report{}, false
	}
	var id uint64
	if err := json.Unmarshal(fields[0], &id); err != nil {
		return Report{}, false
	}
	node, ok := d.nodes[id]
	if !ok {
		return Report{}, false
	}
	return Report{
		NetworkID: node.networkID,
		NodeName:  node.name,
		Block:     parseBlockDetails(fields[1]),
	}, true
}

// parseBlockDetails reads the height out of [height, hash, blockTime, timestamp, propagation].
func parseBlockDetails(raw json.RawMessage) int64 {
	var details []json.RawMessage
	if err := json.Unmarshal(raw, &details); err != nil || len(details) <= blockHeight {
		return -1
	}
	var h float64
	if err := json.Unmarshal(details[blockHeight], &h); err != nil {
		return -1
	}
	if h < 0 || h != math.Trunc(h) || h > math.MaxInt64 {
		return -1
	}
	return int64(h)
}
