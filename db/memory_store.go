package db

import (
	"sort"
	"sync/atomic"

	"github.com/maxpert/lwt/encoding"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore implements Store on lock-free concurrent maps. Records are kept
// msgpack encoded so callers never share mutable state with the store, the
// same as with PebbleStore.
type MemoryStore struct {
	states *xsync.MapOf[string, []byte]
	data   *xsync.MapOf[string, []byte]
	closed atomic.Bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: xsync.NewMapOf[string, []byte](),
		data:   xsync.NewMapOf[string, []byte](),
	}
}

func (s *MemoryStore) ReadState(key []byte) (*paxos.State, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	state := &paxos.State{}
	if val, ok := s.states.Load(string(key)); ok {
		if err := encoding.Unmarshal(val, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *MemoryStore) ReadPartition(key []byte) (*row.Partition, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	val, ok := s.data.Load(string(key))
	if !ok {
		return nil, nil
	}
	p := &row.Partition{}
	if err := encoding.Unmarshal(val, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *MemoryStore) Write(key []byte, w Write) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var stateVal, dataVal []byte
	var err error
	if w.State != nil {
		if stateVal, err = encoding.Marshal(w.State); err != nil {
			return err
		}
	}
	if w.Data != nil {
		if dataVal, err = encoding.Marshal(w.Data); err != nil {
			return err
		}
	}
	if stateVal != nil {
		s.states.Store(string(key), stateVal)
	}
	if dataVal != nil {
		s.data.Store(string(key), dataVal)
	}
	return nil
}

// RangeStates visits records in key order, matching PebbleStore
func (s *MemoryStore) RangeStates(fn func(key []byte, state *paxos.State) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	keys := make([]string, 0, s.states.Size())
	s.states.Range(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)

	for _, k := range keys {
		val, ok := s.states.Load(k)
		if !ok {
			continue
		}
		var state paxos.State
		if err := encoding.Unmarshal(val, &state); err != nil {
			return err
		}
		if !fn([]byte(k), &state) {
			break
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
