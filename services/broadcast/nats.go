package broadcastsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
)

// NATSBroadcaster relays group events through core NATS subjects.
type NATSBroadcaster struct {
	nc     *nats.Conn
	prefix string
	groups *chat.Groups
	logger core.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

var _ Broadcaster = (*NATSBroadcaster)(nil)

// DialNATS connects to the NATS server at url, reconnecting forever.
func DialNATS(url, name, prefix string, logger core.Logger) (*NATSBroadcaster, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(fmt.Sprintf("nats disconnected: %v", err), err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected to " + nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return NewNATSBroadcaster(nc, prefix, logger), nil
}

func NewNATSBroadcaster(nc *nats.Conn, prefix string, logger core.Logger) *NATSBroadcaster {
	return &NATSBroadcaster{
		nc:     nc,
		prefix: prefix,
		groups: chat.NewGroups(logger),
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}
}

func (b *NATSBroadcaster) subject(group string) string {
	return b.prefix + group
}

func (b *NATSBroadcaster) JoinGroup(_ context.Context, group string, m chat.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.groups.Add(group, m) {
		return nil
	}
	sub, err := b.nc.Subscribe(b.subject(group), func(msg *nats.Msg) {
		relay(b.groups, group, msg.Data, b.logger)
	})
	if err == nil {
		// make sure the server registered the interest before any publish
		err = b.nc.Flush()
	}
	if err != nil {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		b.groups.Remove(group, m)
		return errors.Wrap(err, "subscribing to "+group)
	}
	b.subs[group] = sub
	return nil
}

func (b *NATSBroadcaster) LeaveGroup(_ context.Context, group string, m chat.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.groups.Remove(group, m) {
		return nil
	}
	sub, ok := b.subs[group]
	if !ok {
		return nil
	}
	delete(b.subs, group)
	return errors.Wrap(sub.Unsubscribe(), "unsubscribing from "+group)
}

func (b *NATSBroadcaster) SendToGroup(_ context.Context, group string, ev chat.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return errors.Wrap(b.nc.Publish(b.subject(group), data), "publishing to "+group)
}

// Close drains the subscriptions and closes the connection.
func (b *NATSBroadcaster) Close() error {
	b.mu.Lock()
	for group := range b.subs {
		delete(b.subs, group)
	}
	b.mu.Unlock()
	return b.nc.Drain()
}
