package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic, which may use the + and #
// wildcards. The subscription is tracked and restored after every
// reconnect; a failed restore is reported through SetOnSubscribeError.
//
// The Roborock cloud session subscribes once to
// rr/m/o/{user}/{username}/# and demultiplexes by the last topic segment:
//
//	err := client.Subscribe(mqtt.Topics{}.DeviceResponses(user, username), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(mqtt.Topics{}.DeviceIDFromTopic(topic), payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: topic, qos: qos, handler: handler}
	c.track(sub)

	if err := await(c.subscribe(sub), ErrSubscribeFailed); err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe drops a tracked subscription. Messages already in flight
// may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if err := validate(topic, 0); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) track(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// tracked returns a snapshot of the tracked subscriptions.
func (c *Client) tracked() []subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether exactly topic is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
