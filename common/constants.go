package common

import (
	"errors"
	"fmt"
)

const channelSubjFormat = "ch.%s"
const channelStreamFormat = "channel-%s"
const binderKeyFormat = "binder:%s"
const durableKeyFormat = "durable:%s:%s"

// ChannelStreamPrefix prefixes every JetStream stream that backs a channel.
const ChannelStreamPrefix = "channel-"

// BindersSetKey holds the names of all created binders.
const BindersSetKey = "binders"

const maxNameLength = 128

var ErrInvalidName = errors.New("invalid name")

func ChannelSubjFormat(channel string) string {
	return fmt.Sprintf(channelSubjFormat, channel)
}

func ChannelStreamName(channel string) string {
	return fmt.Sprintf(channelStreamFormat, channel)
}

func BinderKey(binder string) string {
	return fmt.Sprintf(binderKeyFormat, binder)
}

func DurableKey(channel, durableID string) string {
	return fmt.Sprintf(durableKeyFormat, channel, durableID)
}

// ValidateName accepts channel and binder names that are safe as both a NATS
// subject token and a stream name: letters, digits, '-' and '_'.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
