// Package memstore is an in-memory reference implementation of
// provisioner.Store, suitable for tests and for running the provisioner
// without a database.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Store is a sync.RWMutex-guarded in-memory Store.
type Store struct {
	mu      sync.RWMutex
	launches map[string]provisioner.LaunchRecord
	nodes    map[string]provisioner.NodeRecord // keyed by node_id
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		launches: make(map[string]provisioner.LaunchRecord),
		nodes:    make(map[string]provisioner.NodeRecord),
	}
}

func (s *Store) PutRecord(ctx context.Context, node provisioner.NodeRecord, newState *provisioner.State) error {
	return s.PutRecords(ctx, []provisioner.NodeRecord{node}, newState)
}

func (s *Store) PutRecords(ctx context.Context, nodes []provisioner.NodeRecord, newState *provisioner.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if newState != nil {
			n.State = *newState
		}
		s.nodes[n.NodeID] = n
	}
	return nil
}

func (s *Store) PutLaunch(ctx context.Context, launch provisioner.LaunchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launches[launch.LaunchID] = launch
	return nil
}

func (s *Store) GetLaunch(ctx context.Context, launchID string) (provisioner.LaunchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.launches[launchID]
	if !ok {
		return provisioner.LaunchRecord{}, provisioner.ErrLaunchNotFound
	}
	return l, nil
}

func (s *Store) GetLaunches(ctx context.Context, state *provisioner.State) ([]provisioner.LaunchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.launches))
	for id := range s.launches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]provisioner.LaunchRecord, 0, len(ids))
	for _, id := range ids {
		l := s.launches[id]
		if state == nil || l.State == *state {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) GetLaunchNodes(ctx context.Context, launchID string) ([]provisioner.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodesWhere(func(n provisioner.NodeRecord) bool { return n.LaunchID == launchID }), nil
}

func (s *Store) GetSiteNodes(ctx context.Context, site string, beforeState provisioner.State) ([]provisioner.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodesWhere(func(n provisioner.NodeRecord) bool {
		return n.Site == site && n.State < beforeState
	}), nil
}

func (s *Store) GetNodesByID(ctx context.Context, ids []string) ([]*provisioner.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*provisioner.NodeRecord, len(ids))
	for i, id := range ids {
		if n, ok := s.nodes[id]; ok {
			copied := n
			out[i] = &copied
		}
	}
	return out, nil
}

func (s *Store) Sites(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, n := range s.nodes {
		seen[n.Site] = true
	}
	out := make([]string, 0, len(seen))
	for site := range seen {
		out = append(out, site)
	}
	sort.Strings(out)
	return out, nil
}

// nodesWhere must be called with s.mu already held.
func (s *Store) nodesWhere(pred func(provisioner.NodeRecord) bool) []provisioner.NodeRecord {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]provisioner.NodeRecord, 0)
	for _, id := range ids {
		n := s.nodes[id]
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}
