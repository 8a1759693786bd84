package relaykit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/relaykit/mqtt"
)

// mqttReporter publishes switch state transitions to the broker. Raised from
// inside the controller's state path, so the publish itself runs on a single
// worker goroutine: publishes can never overtake each other, and while one is
// in flight only the newest state is kept.
type mqttReporter struct {
	publisher mqtt.Publisher
	topic     string
	sc        *SwitchController
	logger    *log.Logger

	pending chan bool
}

func newMqttReporter(publisher mqtt.Publisher, deviceName string, sc *SwitchController, logger *log.Logger) *mqttReporter {
	mr := &mqttReporter{
		publisher: publisher,
		topic:     fmt.Sprintf("%s/switch/%d/state", deviceName, sc.Id()),
		sc:        sc,
		logger:    logger,
		pending:   make(chan bool, 1),
	}
	go mr.publishLoop()

	return mr
}

func (mr *mqttReporter) RaiseEvent() {
	state := mr.sc.currentState()

	// RaiseEvent calls are serialized by the controller, so after draining a
	// stale state the send cannot block.
	select {
	case mr.pending <- state:
	default:
		select {
		case <-mr.pending:
		default:
		}
		mr.pending <- state
	}
}

func (mr *mqttReporter) publishLoop() {
	for state := range mr.pending {
		payload, err := json.Marshal(struct {
			Id    int  `json:"id"`
			State bool `json:"state"`
		}{mr.sc.Id(), state})
		if err == nil {
			err = mr.publisher.Publish(mr.topic, payload)
		}
		if err != nil {
			mr.logger.Warn("failed to publish switch state", "topic", mr.topic, "err", err)
		}
	}
}

// mqttCommand lets the broker command a switch: payload on/off/toggle on
// <device>/switch/<id>/set.
type mqttCommand struct {
	topic  string
	sc     *SwitchController
	logger *log.Logger
}

func newMqttCommand(deviceName string, sc *SwitchController, logger *log.Logger) *mqttCommand {
	return &mqttCommand{
		topic:  fmt.Sprintf("%s/switch/%d/set", deviceName, sc.Id()),
		sc:     sc,
		logger: logger,
	}
}

func (mcmd *mqttCommand) MqttSubscribeTopic() string {
	return mcmd.topic
}

func (mcmd *mqttCommand) MqttHandle(pub *paho.Publish) {
	switch strings.ToLower(strings.TrimSpace(string(pub.Payload))) {
	case "on", "true", "1":
		mcmd.sc.SetState(true, "mqtt")
	case "off", "false", "0":
		mcmd.sc.SetState(false, "mqtt")
	case "toggle":
		mcmd.sc.SetState(!mcmd.sc.currentState(), "mqtt")
	default:
		mcmd.logger.Warn("unknown mqtt switch command", "topic", mcmd.topic, "payload", string(pub.Payload))
	}
}
