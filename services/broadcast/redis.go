package broadcastsvc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
)

// RedisBroadcaster relays group events through Redis Pub/Sub.
type RedisBroadcaster struct {
	client *redis.Client
	prefix string
	groups *chat.Groups
	logger core.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

// DialRedis connects to the Redis server at url (redis://[:password@]host:port/db).
func DialRedis(url, prefix string, logger core.Logger) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return NewRedisBroadcaster(client, prefix, logger), nil
}

func NewRedisBroadcaster(client *redis.Client, prefix string, logger core.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: client,
		prefix: prefix,
		groups: chat.NewGroups(logger),
		logger: logger,
		subs:   make(map[string]*redis.PubSub),
	}
}

func (b *RedisBroadcaster) channel(group string) string {
	return b.prefix + group
}

func (b *RedisBroadcaster) JoinGroup(ctx context.Context, group string, m chat.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.groups.Add(group, m) {
		return nil
	}
	ps := b.client.Subscribe(ctx, b.channel(group))
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		b.groups.Remove(group, m)
		return errors.Wrap(err, "subscribing to "+group)
	}
	b.subs[group] = ps
	go b.listen(group, ps)
	return nil
}

func (b *RedisBroadcaster) listen(group string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		b.deliver(group, ps, []byte(msg.Payload))
	}
}

// deliver drops payloads buffered by a subscription that has since been closed.
// The group may already have a new one relaying the same messages.
func (b *RedisBroadcaster) deliver(group string, ps *redis.PubSub, payload []byte) {
	b.mu.Lock()
	current := b.subs[group] == ps
	b.mu.Unlock()
	if current {
		relay(b.groups, group, payload, b.logger)
	}
}

func (b *RedisBroadcaster) LeaveGroup(_ context.Context, group string, m chat.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.groups.Remove(group, m) {
		return nil
	}
	ps, ok := b.subs[group]
	if !ok {
		return nil
	}
	delete(b.subs, group)
	return errors.Wrap(ps.Close(), "unsubscribing from "+group)
}

func (b *RedisBroadcaster) SendToGroup(ctx context.Context, group string, ev chat.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return errors.Wrap(b.client.Publish(ctx, b.channel(group), data).Err(), "publishing to "+group)
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	for group, ps := range b.subs {
		_ = ps.Close()
		delete(b.subs, group)
	}
	b.mu.Unlock()
	return b.client.Close()
}
