package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/trezcool/elearn/core"
)

type (
	// Member is a live connection that can receive group events.
	// Deliver must not block.
	Member interface {
		ID() string
		Deliver(ev Event) error
	}

	// Broadcaster relays events to every member of a group, across processes for distributed backends.
	Broadcaster interface {
		JoinGroup(ctx context.Context, group string, m Member) error
		LeaveGroup(ctx context.Context, group string, m Member) error
		SendToGroup(ctx context.Context, group string, ev Event) error
	}
)

// Groups keeps the members of each group joined in this process and fans events out to them.
// It is the local half shared by every Broadcaster backend.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member
	logger core.Logger
}

func NewGroups(logger core.Logger) *Groups {
	return &Groups{
		groups: make(map[string]map[string]Member),
		logger: logger,
	}
}

// Add reports whether m is the first local member of group.
func (g *Groups) Add(group string, m Member) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		members = make(map[string]Member)
		g.groups[group] = members
	}
	members[m.ID()] = m
	return !ok
}

// Remove reports whether group has no local member left.
func (g *Groups) Remove(group string, m Member) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		return false
	}
	delete(members, m.ID())
	if len(members) == 0 {
		delete(g.groups, group)
		return true
	}
	return false
}

func (g *Groups) Len(group string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups[group])
}

// Fanout delivers ev to every local member of group and returns how many accepted it.
// A failing member is logged and skipped.
func (g *Groups) Fanout(group string, ev Event) int {
	g.mu.RLock()
	members := make([]Member, 0, len(g.groups[group]))
	for _, m := range g.groups[group] {
		members = append(members, m)
	}
	g.mu.RUnlock()

	var delivered int
	for _, m := range members {
		if err := m.Deliver(ev); err != nil {
			g.logger.Warn(fmt.Sprintf("delivering to %s in %s: %v", m.ID(), group, err), err)
			continue
		}
		delivered++
	}
	return delivered
}

// inMemBroadcaster is a single-process Broadcaster.
type inMemBroadcaster struct {
	groups *Groups
}

var _ Broadcaster = (*inMemBroadcaster)(nil)

func NewInMemBroadcaster(logger core.Logger) Broadcaster {
	return &inMemBroadcaster{groups: NewGroups(logger)}
}

func (b *inMemBroadcaster) JoinGroup(_ context.Context, group string, m Member) error {
	b.groups.Add(group, m)
	return nil
}

func (b *inMemBroadcaster) LeaveGroup(_ context.Context, group string, m Member) error {
	b.groups.Remove(group, m)
	return nil
}

func (b *inMemBroadcaster) SendToGroup(_ context.Context, group string, ev Event) error {
	b.groups.Fanout(group, ev)
	return nil
}
