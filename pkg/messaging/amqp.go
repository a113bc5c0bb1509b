package messaging

import (
	"encoding/json"
	goerrors "errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callinsight-server/pkg/pipeline"
)

// ResultMessage is the envelope published for each completed run.
type ResultMessage struct {
	RequestID string                   `json:"request_id"`
	Timestamp time.Time                `json:"timestamp"`
	Result    *pipeline.AnalysisResult `json:"result"`
}

// Config holds AMQP publisher configuration.
type Config struct {
	URL          string
	ExchangeName string
	RoutingKey   string
}

// Publisher ships completed analysis results to an AMQP exchange. It
// implements pipeline.Sink; progress events are ignored, only final
// results go on the wire. Publishing is best effort: a broker outage
// never fails a pipeline run.
type Publisher struct {
	logger    *logrus.Logger
	config    Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewPublisher creates a publisher. Call Connect before use.
func NewPublisher(logger *logrus.Logger, config Config) *Publisher {
	if config.ExchangeName == "" {
		config.ExchangeName = "callinsight"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "analysis.completed"
	}
	return &Publisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker and declares the exchange. On success it
// starts a monitor goroutine that redials with exponential backoff when
// the connection drops.
func (p *Publisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}
	if err := p.dial(); err != nil {
		return err
	}
	go p.monitor()
	return nil
}

// dial must be called with connMutex held.
func (p *Publisher) dial() error {
	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := channel.ExchangeDeclare(
		p.config.ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.logger.WithFields(logrus.Fields{
		"exchange":    p.config.ExchangeName,
		"routing_key": p.config.RoutingKey,
	}).Info("Connected to AMQP broker")
	return nil
}

// monitor watches for connection loss and redials until it succeeds or
// the publisher is closed.
func (p *Publisher) monitor() {
	for {
		p.connMutex.RLock()
		conn := p.conn
		p.connMutex.RUnlock()
		if conn == nil {
			return
		}

		closeChan := make(chan *amqp.Error, 1)
		conn.NotifyClose(closeChan)

		select {
		case <-p.stopChan:
			return
		case amqpErr := <-closeChan:
			p.connMutex.Lock()
			p.connected = false
			p.conn = nil
			p.channel = nil
			p.connMutex.Unlock()
			if amqpErr != nil {
				p.logger.WithError(amqpErr).Warn("AMQP connection lost, reconnecting")
			}
		}

		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0
		policy.MaxInterval = 30 * time.Second
		err := backoff.Retry(func() error {
			select {
			case <-p.stopChan:
				return backoff.Permanent(errStopped)
			default:
			}
			p.connMutex.Lock()
			defer p.connMutex.Unlock()
			return p.dial()
		}, policy)
		if err != nil {
			return
		}
	}
}

var errStopped = goerrors.New("publisher stopped")

// PublishEvent is a no-op; only final results are published.
func (p *Publisher) PublishEvent(event pipeline.Event) {}

// PublishResult publishes a completed analysis result. Failures are
// logged and dropped.
func (p *Publisher) PublishResult(requestID string, result *pipeline.AnalysisResult) {
	p.connMutex.RLock()
	channel := p.channel
	connected := p.connected
	p.connMutex.RUnlock()

	if !connected || channel == nil {
		p.logger.WithField("request_id", requestID).Debug("AMQP not connected, dropping result")
		return
	}

	body, err := json.Marshal(ResultMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Result:    result,
	})
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal result message")
		return
	}

	if err := channel.Publish(
		p.config.ExchangeName,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		p.logger.WithError(err).WithField("request_id", requestID).Warn("Failed to publish result")
		return
	}
	p.logger.WithField("request_id", requestID).Debug("Published analysis result")
}

// Close shuts the publisher down.
func (p *Publisher) Close() {
	close(p.stopChan)

	p.connMutex.Lock()
	defer p.connMutex.Unlock()
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}
