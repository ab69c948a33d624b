package redis

import (
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is a payload received on a subscribed channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription relays pub/sub messages until closed.
type Subscription struct {
	ps   *redis.PubSub
	out  chan Message
	once sync.Once
	done chan struct{}
}

func newSubscription(ps *redis.PubSub) *Subscription {
	s := &Subscription{
		ps:   ps,
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	go s.relay()
	return s
}

func (s *Subscription) relay() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
		case <-s.done:
			return
		}
	}
}

// Messages returns the receive channel; it is closed after Close.
func (s *Subscription) Messages() <-chan Message {
	return s.out
}

// Close unsubscribes and releases the connection.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
