// Package bus bridges the node to an MQTT broker: timestamp-sync and
// calibration command messages are posted to the node, and emitted eye
// positions are published in their 56-byte wire form.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/node"
)

const (
	DefaultTopicPrefix = "eyetrack"
	DefaultClientID    = "eyetrack-node"

	TopicTimestamp   = "timestamp"
	TopicCommand     = "command"
	TopicPosition    = "position"
	TopicCalibration = "calibration"
)

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Poster accepts records for the next processing cycle.
type Poster interface {
	Post(event.Record) bool
}

// Connect dials broker and returns a connected client.
func Connect(broker, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			monitoring.Logf("bus: connected to %s", broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("bus: connection to %s lost: %v", broker, err)
		})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, token.Error())
	}
	return client, nil
}

// Stats counts bridged messages.
type Stats struct {
	Timestamps  uint64 `json:"timestamps"`
	Commands    uint64 `json:"commands"`
	Rejected    uint64 `json:"rejected"`
	Published   uint64 `json:"published"`
	PostDropped uint64 `json:"post_dropped"`
}

// Bridge connects an MQTT client to a node.
type Bridge struct {
	client Client
	poster Poster
	prefix string
	QoS    byte

	timestamps  atomic.Uint64
	commands    atomic.Uint64
	rejected    atomic.Uint64
	published   atomic.Uint64
	postDropped atomic.Uint64
}

// NewBridge returns a bridge using topics below prefix.
func NewBridge(client Client, poster Poster, prefix string) *Bridge {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Bridge{client: client, poster: poster, prefix: prefix}
}

// Topic returns the full topic name of suffix.
func (b *Bridge) Topic(suffix string) string { return b.prefix + "/" + suffix }

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Timestamps:  b.timestamps.Load(),
		Commands:    b.commands.Load(),
		Rejected:    b.rejected.Load(),
		Published:   b.published.Load(),
		PostDropped: b.postDropped.Load(),
	}
}

// Start subscribes to the inbound topics.
func (b *Bridge) Start() error {
	for topic, handler := range map[string]mqtt.MessageHandler{
		b.Topic(TopicTimestamp): b.handleTimestamp,
		b.Topic(TopicCommand):   b.handleCommand,
	} {
		token := b.client.Subscribe(topic, b.QoS, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Stop unsubscribes from the inbound topics.
func (b *Bridge) Stop() error {
	token := b.client.Unsubscribe(b.Topic(TopicTimestamp), b.Topic(TopicCommand))
	token.Wait()
	return token.Error()
}

func (b *Bridge) post(r event.Record) {
	if !b.poster.Post(r) {
		b.postDropped.Add(1)
	}
}

// handleTimestamp accepts the binary timestamp-sync payload.
func (b *Bridge) handleTimestamp(_ mqtt.Client, msg mqtt.Message) {
	ts, err := event.DecodeTimestampSync(msg.Payload())
	if err != nil {
		b.rejected.Add(1)
		monitoring.Logf("bus: %s: %v", msg.Topic(), err)
		return
	}
	b.timestamps.Add(1)
	b.post(event.NewTimestampRecord(ts))
}

// handleCommand accepts a text command such as
// "CalibrateEyePosition 512 384 1024 768".
func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	text := strings.TrimSpace(string(msg.Payload()))
	if text == "" {
		b.rejected.Add(1)
		return
	}
	b.commands.Add(1)
	b.post(event.NewCommandRecord(text))
}

type calibrationMessage struct {
	Command       string  `json:"command"`
	Mode          string  `json:"mode"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
	ScreenCenterX float64 `json:"screen_center_x"`
	ScreenCenterY float64 `json:"screen_center_y"`
	RawX          float64 `json:"raw_x"`
	RawY          float64 `json:"raw_y"`
}

// Publish forwards cycle outputs from ch until ctx is done or ch is closed.
// Positions go out as 56-byte records, calibrations as JSON.
func (b *Bridge) Publish(ctx context.Context, ch <-chan node.Output) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-ch:
			if !ok {
				return nil
			}
			b.publishOutput(o)
		}
	}
}

func (b *Bridge) publishOutput(o node.Output) {
	for _, p := range o.Positions {
		b.client.Publish(b.Topic(TopicPosition), b.QoS, false, event.EncodePosition(p))
		b.published.Add(1)
	}
	for _, c := range o.Calibrations {
		payload, err := json.Marshal(calibrationMessage{
			Command:       c.Command.Format(),
			Mode:          c.State.Mode.String(),
			OffsetX:       c.State.OffsetX,
			OffsetY:       c.State.OffsetY,
			ScreenCenterX: c.State.ScreenCenterX,
			ScreenCenterY: c.State.ScreenCenterY,
			RawX:          c.Raw.X,
			RawY:          c.Raw.Y,
		})
		if err != nil {
			monitoring.Logf("bus: encode calibration: %v", err)
			continue
		}
		b.client.Publish(b.Topic(TopicCalibration), b.QoS, false, payload)
		b.published.Add(1)
	}
}
