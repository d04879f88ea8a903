package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/observability"
)

const (
	updateSendBufferSize = 64
	updatePingInterval   = 30 * time.Second
)

// UpdateStreamOptions wraps metadata extracted during the websocket upgrade.
type UpdateStreamOptions struct {
	UserID        string
	CorrelationID string
}

// UpdateHubService fans submission updates out to every connected session.
type UpdateHubService interface {
	ServeConnection(conn *websocket.Conn, opts UpdateStreamOptions)
	Broadcast(update dto.SubmissionUpdate)
	Start(ctx context.Context)
	Connections() int
}

// streamConn is the part of a websocket connection the hub needs.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type updateHubService struct {
	redis    *redis.Client
	nats     *nats.Conn
	channels UpdateChannels
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*updateClient]struct{}
}

type updateClient struct {
	conn    streamConn
	send    chan []byte
	options UpdateStreamOptions
	hub     *updateHubService
	closed  chan struct{}
	once    sync.Once
}

// NewUpdateHubService constructs the hub. It consumes updates from Redis when a
// client is supplied and from NATS otherwise.
func NewUpdateHubService(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) UpdateHubService {
	return &updateHubService{
		redis:    redisClient,
		nats:     natsConn,
		channels: SubmissionUpdateChannels(channelBase),
		logger:   logger.With().Str("component", "update_hub").Logger(),
		clients:  make(map[*updateClient]struct{}),
	}
}

func (h *updateHubService) Start(ctx context.Context) {
	switch {
	case h.redis != nil:
		go h.consumeRedis(ctx)
	case h.nats != nil:
		go h.consumeNATS(ctx)
	default:
		h.logger.Warn().Msg("no update transport configured; only local broadcasts will be delivered")
	}
}

func (h *updateHubService) ServeConnection(conn *websocket.Conn, opts UpdateStreamOptions) {
	h.serve(conn, opts)
}

func (h *updateHubService) serve(conn streamConn, opts UpdateStreamOptions) {
	client := &updateClient{
		conn:    conn,
		send:    make(chan []byte, updateSendBufferSize),
		options: opts,
		hub:     h,
		closed:  make(chan struct{}),
	}

	h.register(client)
	observability.UpdateStreamConnections().Inc()

	go client.writer()
	client.reader()
}

func (h *updateHubService) Broadcast(update dto.SubmissionUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal submission update")
		return
	}
	h.broadcast(payload)
}

func (h *updateHubService) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *updateHubService) consumeRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.channels.Redis)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			h.logger.Error().Err(err).Msg("update redis subscription closed")
			return
		}
		h.handleEvent([]byte(msg.Payload))
	}
}

func (h *updateHubService) consumeNATS(ctx context.Context) {
	sub, err := h.nats.Subscribe(h.channels.NATS, func(msg *nats.Msg) {
		h.handleEvent(msg.Data)
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to subscribe to nats update subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to drain update nats subscription")
		}
	}()
}

// handleEvent forwards well-formed updates verbatim so fields added by newer
// publishers reach clients untouched.
func (h *updateHubService) handleEvent(data []byte) {
	var update dto.SubmissionUpdate
	if err := json.Unmarshal(data, &update); err != nil || update.ID == 0 {
		h.logger.Warn().Err(err).Msg("invalid submission update event")
		return
	}
	h.broadcast(data)
}

func (h *updateHubService) register(client *updateClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	observability.UpdateStreamActive().Inc()
	h.logger.Debug().Str("user_id", client.options.UserID).Msg("update stream client connected")
}

func (h *updateHubService) unregister(client *updateClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	observability.UpdateStreamActive().Dec()
	h.logger.Debug().Str("user_id", client.options.UserID).Msg("update stream client disconnected")
}

// broadcast hands the payload to every client. A client whose buffer is full
// is disconnected rather than skipped.
func (h *updateHubService) broadcast(payload []byte) {
	var slow []*updateClient

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		observability.UpdatesDropped().Inc()
		h.logger.Warn().Str("user_id", client.options.UserID).Msg("disconnecting slow update client")
		client.close()
	}
}

// reader drains inbound frames until the peer goes away. Clients never send
// anything meaningful on this stream.
func (c *updateClient) reader() {
	defer c.close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.logger.Debug().Err(err).Msg("update read loop ended")
			return
		}
	}
}

func (c *updateClient) writer() {
	defer c.close()

	ticker := time.NewTicker(updatePingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug().Err(err).Msg("update write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.hub.logger.Debug().Err(err).Msg("update ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *updateClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}
