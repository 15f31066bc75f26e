// Package mqtt provides the controller's MQTT transport: a reconnecting
// client built on paho.golang/autopaho, a topic-trie message mux, and an
// embedded broker (mochi-mqtt) used by tests and the dev broker command.
package mqtt

import (
	"fmt"
	"sync"

	"github.com/eclipse/paho.golang/paho"

	"github.com/cuebox/cuebox/pkg/trie"
)

// Message is a received publish, as delivered by the paho client.
type Message = paho.PublishReceived

// Handler handles a message received on a subscribed topic.
type Handler interface {
	HandleMessage(Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Message) error

func (f HandlerFunc) HandleMessage(m Message) error {
	return f(m)
}

// ServeMux routes received messages to handlers by topic filter. Filters use
// the usual MQTT wildcards: + matches one level, # matches the rest.
type ServeMux struct {
	mu   sync.RWMutex
	root *trie.Trie[[]Handler]

	// aliases is only touched from the client's single delivery goroutine;
	// mu guards the filter trie against concurrent registration.
	aliases map[uint16]string
}

// NewServeMux returns an empty mux.
func NewServeMux() *ServeMux {
	return &ServeMux{
		root:    trie.New[[]Handler](),
		aliases: make(map[uint16]string),
	}
}

// Handle registers a handler for the given topic filter. Handlers on the
// same filter accumulate and run in registration order.
func (sm *ServeMux) Handle(filter string, h Handler) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.root.Set(filter, func(hs *[]Handler, _ bool) error {
		*hs = append(*hs, h)
		return nil
	})
}

// HandleFunc registers a handler function for the given topic filter.
func (sm *ServeMux) HandleFunc(filter string, h HandlerFunc) error {
	return sm.Handle(filter, h)
}

// HandleMessage dispatches a received message to the handlers of the most
// specific filter matching its topic. It resolves MQTT v5 topic aliases
// before matching.
func (sm *ServeMux) HandleMessage(pr Message) error {
	if pr.AlreadyHandled {
		return nil
	}
	pkt := pr.Packet

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	topic := pkt.Topic
	if pkt.Properties != nil && pkt.Properties.TopicAlias != nil {
		if pkt.Topic != "" {
			sm.aliases[*pkt.Properties.TopicAlias] = pkt.Topic
		} else if t, ok := sm.aliases[*pkt.Properties.TopicAlias]; ok {
			topic = t
		}
	}

	handlers, ok := sm.root.GetValue(topic)
	if !ok {
		return fmt.Errorf("mqtt: no handler for topic %q", topic)
	}
	for _, h := range handlers {
		if err := h.HandleMessage(pr); err != nil {
			return err
		}
	}
	return nil
}
