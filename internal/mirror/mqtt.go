// Package mirror republishes delivered fixes to a local MQTT broker so
// home-automation consumers can follow tracked items without polling the
// destination servers.
package mirror

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
)

// Publisher mirrors delivered points to <prefix>/<serial>/location.
type Publisher struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger
}

// Connect dials the broker and returns a ready Publisher.
func Connect(brokerURL, topicPrefix string, logger *slog.Logger) (*Publisher, error) {
	clientID := fmt.Sprintf("waypointrelay-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", brokerURL, token.Error())
	}

	logger.Info("mqtt mirror connected", "broker", brokerURL, "client_id", clientID)
	return &Publisher{client: client, prefix: topicPrefix, logger: logger}, nil
}

// PublishDelivered publishes each point in order. Publish failures are
// logged only; the mirror is best-effort and never affects the queue.
func (p *Publisher) PublishDelivered(serial string, points []model.Point) {
	topic := fmt.Sprintf("%s/%s/location", p.prefix, serial)

	for _, point := range points {
		data, err := json.Marshal(point)
		if err != nil {
			p.logger.Warn("mirror encode failed", "serial", serial, "error", err)
			continue
		}

		token := p.client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("mirror publish failed", "topic", topic, "error", err)
			return
		}
	}

	p.logger.Debug("mirrored delivered points", "topic", topic, "points", len(points))
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
