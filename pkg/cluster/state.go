package cluster

import "go.uber.org/zap/zapcore"

// State is what one pass learned about a node. Nil pointers mean "not known this run".
type State struct {
	Node

	Name      string
	Height    *uint64
	Active    *bool
	Challenge string
}

// Label is the telemetry display name when known, otherwise the network id.
func (s *State) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.NetworkID
}

func (s *State) HasHeight() bool { return s.Height != nil }

func (s *State) IsActive() bool { return s.Active != nil && *s.Active }

func (s *State) HasChallenge() bool { return s.Challenge != "" }

// MarshalLogObject lets states be logged with zap.Object / zap.Array.
func (s *State) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("network_id", s.NetworkID)
	enc.AddString("name", s.Name)
	enc.AddString("url", s.URL)
	enc.AddInt("priority", s.Priority)
	if s.Height != nil {
		enc.AddUint64("height", *s.Height)
	}
	if s.Active != nil {
		enc.AddBool("active", *s.Active)
	}
	enc.AddBool("challenge", s.HasChallenge())
	return nil
}

// States holds one State per registered node, in priority order. The set is
// fixed at construction.
type States struct {
	list  []*State
	index map[string]*State
}

// NewStates creates an empty state for every registered node.
func NewStates(r *Registry) *States {
	s := &States{
		list:  make([]*State, 0, r.Len()),
		index: make(map[string]*State, r.Len()),
	}
	for _, n := range r.Nodes() {
		st := &State{Node: n}
		s.list = append(s.list, st)
		s.index[n.NetworkID] = st
	}
	return s
}

// Get returns the state for id or nil for an unknown node.
func (s *States) Get(id string) *State { return s.index[id] }

// Ordered returns the states in priority order. The pointers are live.
func (s *States) Ordered() []*State { return s.list }

func (s *States) Len() int { return len(s.list) }

// Observe records a telemetry observation. Unknown ids are ignored and reported as false.
func (s *States) Observe(id string, height uint64, name string) bool {
	st, ok := s.index[id]
	if !ok {
		return false
	}
	h := height
	st.Height = &h
	st.Name = name
	return true
}

// MarshalLogArray lets the set be logged with zap.Array.
func (s *States) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, st := range s.list {
		if err := enc.AppendObject(st); err != nil {
			return err
		}
	}
	return nil
}
