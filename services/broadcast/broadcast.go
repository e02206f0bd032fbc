// Package broadcastsvc holds the distributed chat.Broadcaster backends.
// Each process subscribes to a group's channel while it has local members in that group,
// so an event published by any process reaches every live connection of the group.
package broadcastsvc

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/chat"
)

// Brokers
const (
	BrokerInMem = "inmem"
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

var ErrUnknownBroker = errors.New("unknown chat broker")

// Broadcaster is a chat.Broadcaster holding a connection to its broker.
type Broadcaster interface {
	chat.Broadcaster
	Close() error
}

// New returns the Broadcaster of the configured broker.
func New(conf *core.Config, logger core.Logger) (Broadcaster, error) {
	switch conf.Chat.Broker {
	case BrokerInMem, "":
		return nopCloser{chat.NewInMemBroadcaster(logger)}, nil
	case BrokerRedis:
		b, err := DialRedis(conf.Chat.RedisURL, conf.Chat.ChannelPrefix, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BrokerNATS:
		b, err := DialNATS(conf.Chat.NATSURL, conf.AppName, conf.Chat.ChannelPrefix, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.Wrap(ErrUnknownBroker, conf.Chat.Broker)
	}
}

type nopCloser struct {
	chat.Broadcaster
}

func (nopCloser) Close() error { return nil }

func encodeEvent(ev chat.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	return data, errors.Wrap(err, "encoding event")
}

// relay decodes a broker payload and fans it out to the local members of group.
func relay(groups *chat.Groups, group string, payload []byte, logger core.Logger) {
	var ev chat.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn(fmt.Sprintf("decoding event of %s: %v", group, err), err)
		return
	}
	groups.Fanout(group, ev)
}
