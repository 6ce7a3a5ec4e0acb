package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/victorivanov/commsync/internal/metrics"
)

// Push is the persistent side of the transport. *Socket implements it.
type Push interface {
	Connected() bool
	Emit(event string, payload any) error
	Request(ctx context.Context, event string, payload any) (Ack, error)
	On(event string, h Handler) (off func())
	OnStatus(fn func(connected bool)) (off func())
}

// Via records which path served an action.
type Via int

const (
	ViaTransport Via = iota + 1
	ViaFallback
)

func (v Via) String() string {
	switch v {
	case ViaTransport:
		return metrics.ViaTransport
	case ViaFallback:
		return metrics.ViaFallback
	default:
		return "none"
	}
}

// Result is the confirmed outcome of an action and the path that produced it.
type Result[T any] struct {
	Via    Via
	Record *T
}

// Client composes the push and fallback transports into one logical channel.
// The process that owns the push connection (Socket.Run) is not the client's
// concern; Client only reads its health.
type Client struct {
	push    Push
	api     Fallback
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a Client. log and m may be nil.
func NewClient(push Push, api Fallback, log *slog.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{push: push, api: api, log: log.With("component", "transport"), metrics: m}
}

// Connected reports push transport health.
func (c *Client) Connected() bool {
	return c.push.Connected()
}

// API returns the fallback transport.
func (c *Client) API() Fallback {
	return c.api
}

// Join subscribes to a channel's push events. Only meaningful while connected.
func (c *Client) Join(channelID string) error {
	return c.Emit(ActionChannelJoin, ChannelRef{ChannelID: channelID})
}

// Leave unsubscribes from a channel's push events.
func (c *Client) Leave(channelID string) error {
	return c.Emit(ActionChannelLeave, ChannelRef{ChannelID: channelID})
}

// Emit sends a fire-and-forget action over the push transport.
func (c *Client) Emit(event string, payload any) error {
	if !c.push.Connected() {
		return ErrNotConnected
	}
	return c.push.Emit(event, payload)
}

// On registers a push event handler.
func (c *Client) On(event string, h Handler) (off func()) {
	return c.push.On(event, h)
}

// OnStatus registers a connection health listener.
func (c *Client) OnStatus(fn func(connected bool)) (off func()) {
	return c.push.OnStatus(fn)
}

// Do runs one action transport-first: while the push transport is connected
// the action is sent with an acknowledgment, and a successful ack carrying a
// record is the result. A failed ack, an ack without a record, a timeout, or
// a disconnected transport falls through to fallback exactly once. The two
// paths never both run to success for one call.
func Do[T any](ctx context.Context, c *Client, event string, payload any, fallback func(context.Context, Fallback) (*T, error)) (Result[T], error) {
	if c.push.Connected() {
		rec, err := requestRecord[T](ctx, c.push, event, payload)
		if err == nil {
			c.metrics.ActionDone(event, metrics.ViaTransport)
			return Result[T]{Via: ViaTransport, Record: rec}, nil
		}
		if ctx.Err() != nil {
			return Result[T]{}, ctx.Err()
		}
		c.metrics.PushFallthrough(event)
		c.log.Debug("push action fell through to fallback", "event", event, "error", err)
	}

	rec, err := fallback(ctx, c.api)
	if err != nil {
		c.metrics.ActionDropped(event)
		return Result[T]{}, fmt.Errorf("%s: %w", event, err)
	}
	if rec == nil {
		c.metrics.ActionDropped(event)
		return Result[T]{}, fmt.Errorf("%s: fallback returned no record: %w", event, ErrRejected)
	}
	c.metrics.ActionDone(event, metrics.ViaFallback)
	return Result[T]{Via: ViaFallback, Record: rec}, nil
}

// requestRecord sends event and decodes the acked record.
func requestRecord[T any](ctx context.Context, push Push, event string, payload any) (*T, error) {
	ack, err := push.Request(ctx, event, payload)
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		if ack.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, ack.Error)
		}
		return nil, ErrRejected
	}
	if !ack.HasRecord() {
		return nil, errors.New("ack carries no record")
	}
	var rec T
	if err := json.Unmarshal(ack.Message, &rec); err != nil {
		return nil, fmt.Errorf("decoding ack record: %w", err)
	}
	return &rec, nil
}
