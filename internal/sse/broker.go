package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/paymind/sessionpay/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	OwnerID string
	Events  chan Event
	Done    chan struct{}
}

// ownerStream is the Redis subscription shared by one owner's clients.
type ownerStream struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

type Broker struct {
	redis   *redisclient.Client
	streams map[string]*ownerStream // ownerID -> stream
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		streams: make(map[string]*ownerStream),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(ownerID string) *Client {
	client := &Client{
		OwnerID: ownerID,
		Events:  make(chan Event, 100),
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	stream := b.streams[ownerID]
	if stream == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		stream = &ownerStream{clients: make(map[*Client]struct{}), cancel: cancel}
		b.streams[ownerID] = stream
		go b.subscribeToRedis(ctx, ownerID, stream)
	}
	stream.clients[client] = struct{}{}
	clientCount := len(stream.clients)
	b.mu.Unlock()

	log.Info().
		Str("ownerId", ownerID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

// Unsubscribe removes client and stops the owner's Redis subscription once
// no clients are left.
func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.streams[client.OwnerID]
	if !ok {
		return
	}
	if _, ok := stream.clients[client]; !ok {
		return
	}
	delete(stream.clients, client)
	close(client.Done)

	if len(stream.clients) == 0 {
		stream.cancel()
		delete(b.streams, client.OwnerID)
	}

	log.Info().
		Str("ownerId", client.OwnerID).
		Int("clientCount", len(stream.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, ownerID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(ownerID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, ownerID string, stream *ownerStream) {
	channel := redisclient.EventChannel(ownerID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("ownerId", ownerID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("ownerId", ownerID).
				Str("channel", channel).
				Msg("redis pubsub unsubscribed")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(ownerID, stream, event)
		}
	}
}

// broadcast delivers to a snapshot of the stream's clients. A stream that was
// replaced after its last client left delivers nothing.
func (b *Broker) broadcast(ownerID string, stream *ownerStream, event Event) {
	b.mu.RLock()
	if b.streams[ownerID] != stream {
		b.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(stream.clients))
	for client := range stream.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("ownerId", ownerID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, stream := range b.streams {
		for client := range stream.clients {
			close(client.Done)
		}
	}
	b.streams = make(map[string]*ownerStream)
}

func (b *Broker) ClientCount(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if stream := b.streams[ownerID]; stream != nil {
		return len(stream.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, stream := range b.streams {
		total += len(stream.clients)
	}
	return total
}
