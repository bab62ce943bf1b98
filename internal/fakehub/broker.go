package fakehub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

type channelKey struct {
	hubID     hub.ID
	channelID hub.ID
}

// delivery is one push event routed to subscribers. A zero channelID
// targets hub subscribers; otherwise channel subscribers.
type delivery struct {
	target  channelKey
	exclude *conn
	payload []byte

	// evict ends the user's subscriptions to the hub. A departing member
	// still hears about its own departure.
	evict hub.ID
	// closeHub ends every subscription to the hub.
	closeHub bool
}

// broker owns the set of streaming connections and their subscriptions.
// Run serializes registration and fan-out.
type broker struct {
	conns      map[*conn]struct{}
	deliver    chan delivery
	register   chan *conn
	unregister chan *conn

	mu sync.RWMutex // conns plus every conn's subscriptions and closed flag
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log     zerolog.Logger
	metrics *metrics
}

func newBroker(logger zerolog.Logger, m *metrics) *broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &broker{
		conns:      make(map[*conn]struct{}),
		deliver:    make(chan delivery, 64),
		register:   make(chan *conn),
		unregister: make(chan *conn),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger,
		metrics:    m,
	}
}

// Run processes registrations and deliveries until shutdown.
func (b *broker) Run() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			b.closeAll()
			return

		case c := <-b.register:
			b.mu.Lock()
			b.conns[c] = struct{}{}
			count := len(b.conns)
			b.mu.Unlock()
			b.metrics.connOpened()
			c.log.Info().Int("connections", count).Msg("streaming client registered")

			b.wg.Add(2)
			go func() {
				defer b.wg.Done()
				c.writePump()
			}()
			go func() {
				defer b.wg.Done()
				c.readPump()
			}()

		case c := <-b.unregister:
			b.drop(c, "disconnected")

		case d := <-b.deliver:
			b.fanOut(d)
		}
	}
}

// publish queues an event for subscribers. It never blocks past shutdown.
func (b *broker) publish(d delivery) {
	select {
	case b.deliver <- d:
	case <-b.ctx.Done():
	}
}

// leave hands c to Run for removal.
func (b *broker) leave(c *conn) {
	select {
	case b.unregister <- c:
	case <-b.ctx.Done():
	}
}

func (b *broker) drop(c *conn, reason string) {
	b.mu.Lock()
	if _, ok := b.conns[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.conns, c)
	c.closed = true
	count := len(b.conns)
	b.mu.Unlock()

	close(c.send)
	b.metrics.connClosed()
	c.log.Info().Str("reason", reason).Int("connections", count).Msg("streaming client unregistered")
}

// trySend queues payload on c without blocking. It fails once c is gone
// or its buffer is full.
func (b *broker) trySend(c *conn, payload []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.conns[c]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// fanOut picks the recipients, applies any eviction, then sends. The
// recipient set is taken before eviction so evicted members still get d.
func (b *broker) fanOut(d delivery) {
	var targets []*conn
	b.mu.Lock()
	for c := range b.conns {
		if c != d.exclude && c.subscribedLocked(d.target) {
			targets = append(targets, c)
		}
	}
	if d.closeHub || d.evict != hub.Nil {
		for c := range b.conns {
			if d.closeHub || c.user == d.evict {
				c.unsubscribeHubLocked(d.target.hubID)
			}
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if !b.trySend(c, d.payload) {
			b.drop(c, "send buffer full")
		}
	}
}

func (b *broker) subscribeHub(c *conn, hubID hub.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.hubs[hubID] = struct{}{}
}

func (b *broker) unsubscribeHub(c *conn, hubID hub.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := c.hubs[hubID]; !ok {
		return hub.ErrNotSubscribed
	}
	c.unsubscribeHubLocked(hubID)
	return nil
}

func (b *broker) subscribeChannel(c *conn, key channelKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.channels[key] = struct{}{}
}

func (b *broker) unsubscribeChannel(c *conn, key channelKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := c.channels[key]; !ok {
		return hub.ErrNotSubscribed
	}
	delete(c.channels, key)
	return nil
}

// announce publishes a HubUpdated event to the hub's subscribers.
func (b *broker) announce(hubID hub.ID, update ws.HubUpdate, evict hub.ID) {
	payload, err := ws.EncodeFrame(ws.EventFrame(ws.HubUpdated{HubID: hubID, Update: update}))
	if err != nil {
		b.log.Error().Err(err).Msg("encode hub update")
		return
	}
	b.publish(delivery{
		target:   channelKey{hubID: hubID},
		payload:  payload,
		evict:    evict,
		closeHub: update.Kind == ws.UpdateHubDeleted,
	})
}

func (b *broker) connectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

func (b *broker) closeAll() {
	b.mu.RLock()
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		c.closeSocket()
	}
	b.log.Info().Int("connections", len(conns)).Msg("closed streaming connections")
}

// shutdown stops Run and waits for every pump to exit.
func (b *broker) shutdown(timeout time.Duration) error {
	b.cancel()
	<-b.done

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		b.log.Warn().Dur("timeout", timeout).Msg("broker shutdown timed out")
		return context.DeadlineExceeded
	}
}
