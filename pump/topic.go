package pump

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// Topic scheme. Patterns use "+" for a single level wildcard.
const (
	topicRoot      = "pump"
	commandSuffix  = "command"
	statusSuffix   = "status"
	CommandPattern = topicRoot + "/+/" + commandSuffix
	StatusPattern  = topicRoot + "/+/" + statusSuffix
)

// CommandTopic returns the command topic of pump id.
func CommandTopic(id int) string {
	return fmt.Sprintf("%s/%d/%s", topicRoot, id, commandSuffix)
}

// StatusTopic returns the status topic of pump id.
func StatusTopic(id int) string {
	return fmt.Sprintf("%s/%d/%s", topicRoot, id, statusSuffix)
}

// DeviceFromTopic extracts the pump id from a command or status topic. Any
// topic outside the scheme is rejected with a decode error.
func DeviceFromTopic(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicRoot ||
		(parts[2] != commandSuffix && parts[2] != statusSuffix) {
		return 0, topicError(topic, "not a pump topic")
	}

	idPart := parts[1]
	if idPart == "" || len(idPart) > 9 {
		return 0, topicError(topic, "bad pump id")
	}
	for _, r := range idPart {
		if r < '0' || r > '9' {
			return 0, topicError(topic, "bad pump id")
		}
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, topicError(topic, err.Error())
	}
	return id, nil
}

func topicError(topic, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: topic %q: %s", errors.ErrDecode, topic, reason),
		"Topic", "DeviceFromTopic", "parse topic")
}

// StatusEvent is telemetry published after a successful exchange.
type StatusEvent struct {
	PumpID     int
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// NewStatusEvent builds an event from a status bus message. The payload must
// be JSON since it is forwarded to clients unchanged.
func NewStatusEvent(topic string, payload []byte, at time.Time) (StatusEvent, error) {
	id, err := DeviceFromTopic(topic)
	if err != nil {
		return StatusEvent{}, err
	}
	if !json.Valid(payload) {
		return StatusEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: status payload on %s is not JSON", errors.ErrDecode, topic),
			"StatusEvent", "New", "validate payload")
	}
	return StatusEvent{
		PumpID:     id,
		Topic:      topic,
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: at,
	}, nil
}

// Message renders the event in the shape pushed to realtime clients.
func (e StatusEvent) Message() ([]byte, error) {
	return json.Marshal(struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}{Topic: e.Topic, Payload: e.Payload})
}
