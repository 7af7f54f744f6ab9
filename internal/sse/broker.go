package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wagate-server-go/internal/model"
	redisclient "github.com/openclaw/wagate-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

// Event is one frame written to an SSE stream. Data holds the full webhook
// event as published.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	OwnerID string
	Events  chan Event
	Done    chan struct{}
}

type subscription struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

// Broker fans session events out to SSE clients. Events travel through Redis
// pub/sub so every replica sees events raised by any other.
type Broker struct {
	redis  *redisclient.Client
	subs   map[string]*subscription // ownerID -> subscription
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(ownerID string) *Client {
	client := &Client{
		OwnerID: ownerID,
		Events:  make(chan Event, clientBufferSize),
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	sub, ok := b.subs[ownerID]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &subscription{clients: make(map[*Client]struct{}), cancel: cancel}
		b.subs[ownerID] = sub

		pubsub := b.redis.Subscribe(ctx, redisclient.EventChannel(ownerID))
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Warn().Err(err).Str("ownerId", ownerID).Msg("redis subscribe not confirmed")
		}
		b.wg.Add(1)
		go b.forward(ctx, sub, ownerID, pubsub)
	}
	sub.clients[client] = struct{}{}
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("ownerId", ownerID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[client.OwnerID]
	if !ok {
		return
	}
	if _, ok := sub.clients[client]; !ok {
		return
	}
	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.subs, client.OwnerID)
	}

	log.Info().
		Str("ownerId", client.OwnerID).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

// Publish sends event to every subscriber of its owner, on any replica.
func (b *Broker) Publish(ctx context.Context, event model.WebhookEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventChannel(event.OwnerID), data).Err()
}

func (b *Broker) forward(ctx context.Context, sub *subscription, ownerID string, pubsub *redis.PubSub) {
	defer b.wg.Done()
	defer pubsub.Close()

	log.Debug().
		Str("ownerId", ownerID).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Error().Err(err).Str("ownerId", ownerID).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(sub, ownerID, Event{Type: envelope.Type, Data: json.RawMessage(msg.Payload)})
		}
	}
}

func (b *Broker) broadcast(sub *subscription, ownerID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.subs[ownerID] != sub {
		return
	}
	for client := range sub.clients {
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
	for _, sub := range b.subs {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broker) ClientCount(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[ownerID]; ok {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.subs {
		total += len(sub.clients)
	}
	return total
}
