package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/VisorEngine/internal/clock"
)

// Publisher is the part of the MQTT client the commander needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// CommandMessage is published to a controller's command topic.
type CommandMessage struct {
	Signal    string                 `json:"signal"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"ts"`
}

// Commander publishes signals to registered controllers.
type Commander struct {
	pub      Publisher
	registry *ControllerRegistry
	clock    clock.Clock
}

// NewCommander creates a commander. A nil clock uses wall time.
func NewCommander(pub Publisher, registry *ControllerRegistry, clk clock.Clock) *Commander {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Commander{pub: pub, registry: registry, clock: clk}
}

// Command validates the signal against the registry and publishes it.
func (c *Commander) Command(ctx context.Context, controller, signal string, payload map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.registry.ValidateCommand(controller, signal); err != nil {
		return err
	}
	if !c.pub.IsConnected() {
		return ErrNotConnected
	}

	body, err := json.Marshal(CommandMessage{
		Signal:    signal,
		Payload:   payload,
		Timestamp: c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return c.pub.Publish(c.registry.CommandTopic(controller), body)
}
