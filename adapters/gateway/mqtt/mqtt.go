package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	suuid "github.com/satori/go.uuid"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// MqttConf holds the configuration for the MQTT bus adapter.
type MqttConf struct {
	Connection  string `yaml:"Connection"`
	TopicPrefix string `yaml:"TopicPrefix"`
}

// Mqtt is the service-oriented bus front end: it carries request/response
// traffic for the diagnostic services and delivers warning events to
// per-subscriber topics. Consumers talk JSON envelopes; the method
// payload inside stays opaque bytes.
type Mqtt struct {
	TopicPrefix string
	MgtUrl      string
	logger      zerolog.Logger
	opt         *pmqtt.ClientOptions
	ClientID    suuid.UUID
	client      pmqtt.Client
	diag        model.IDiagnostics
}

// requestEnvelope frames one request on the bus. Payload rides as base64
// through encoding/json.
type requestEnvelope struct {
	model.ServiceRequest
	Correlation string `json:"correlation,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

type responseEnvelope struct {
	model.ServiceResponse
	Correlation string `json:"correlation,omitempty"`
}

// controlMessage manages event subscriptions over the control topic.
type controlMessage struct {
	Action   string `json:"action"` // subscribe | unsubscribe | disconnect
	Service  uint16 `json:"service"`
	Instance uint16 `json:"instance"`
	Event    uint16 `json:"event"`
	Client   string `json:"client"`
}

func NewMqtt(conf MqttConf, logl int, ctx context.Context, wg *sync.WaitGroup) (*Mqtt, error) {
	var (
		err        error
		cid        suuid.UUID
		mqttClient *Mqtt
		l          zerolog.Logger
	)

	wg.Add(1)

	cid = suuid.NewV4()
	l = createLogger(logl)
	mqttClient = &Mqtt{
		TopicPrefix: conf.TopicPrefix,
		MgtUrl:      conf.Connection,
		logger:      l,
		ClientID:    cid,
		opt: pmqtt.NewClientOptions().
			AddBroker(conf.Connection).
			SetClientID("vehicle-diag-bus-" + cid.String()).
			SetCleanSession(true).
			SetAutoReconnect(true).
			SetTLSConfig(&tls.Config{
				InsecureSkipVerify: true,
			}).
			SetConnectionLostHandler(ConnectLostHandler(l)).
			SetOnConnectHandler(ConnectHandler(l)),
	}

	mqttClient.setupContextListener(ctx, wg)

	err = mqttClient.Connect()
	if err != nil {
		return mqttClient, err
	}

	return mqttClient, err
}

// createLogger initializes a zerolog.Logger with standard settings.
func createLogger(logLevel int) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel+zerolog.Level(logLevel)).
		With().Timestamp().Int("pid", os.Getpid()).Logger()
}

// setupContextListener ensures proper disconnection when the context is canceled.
func (m *Mqtt) setupContextListener(ctx context.Context, wg *sync.WaitGroup) {
	go func() {
		<-ctx.Done()
		m.client.Disconnect(250)
		wg.Done()
		m.logger.Warn().Msg("Mqtt disconnected")
	}()
}

// Bind attaches the diagnostic core the adapter routes into. Must be
// called before Offer.
func (m *Mqtt) Bind(d model.IDiagnostics) {
	m.diag = d
}

// Offer subscribes the request and control topics, making the services
// reachable on the bus. It is the transport-acquisition hook for the
// core's Init: a failed subscription fails the whole startup.
func (m *Mqtt) Offer() error {
	if m.diag == nil {
		return errors.New("mqtt offer before bind")
	}

	token := m.client.Subscribe(m.TopicPrefix+"/request", 1, m.onRequest)
	if token.Wait() && token.Error() != nil {
		return errors.Join(token.Error(), errors.New("failed to subscribe request topic"))
	}

	token = m.client.Subscribe(m.TopicPrefix+"/control", 1, m.onControl)
	if token.Wait() && token.Error() != nil {
		return errors.Join(token.Error(), errors.New("failed to subscribe control topic"))
	}

	m.logger.Info().Str("prefix", m.TopicPrefix).Msg("diagnostic services offered on bus")
	return nil
}

// onRequest decodes one request envelope, dispatches it and publishes the
// response. A malformed envelope is dropped with a log line; the dispatch
// loop never dies on bad input.
func (m *Mqtt) onRequest(_ pmqtt.Client, msg pmqtt.Message) {
	var env requestEnvelope

	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		m.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("malformed request envelope")
		return
	}
	if env.Correlation == "" {
		env.Correlation = uuid.NewString()
	}

	reply := env.ReplyTo
	if reply == "" {
		if env.Client == "" {
			m.logger.Warn().Str("topic", msg.Topic()).Msg("request without reply destination dropped")
			return
		}
		reply = fmt.Sprintf("%s/%s/response", m.TopicPrefix, env.Client)
	}

	resp := m.diag.Dispatch(env.ServiceRequest)

	b, err := json.Marshal(responseEnvelope{ServiceResponse: resp, Correlation: env.Correlation})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal response")
		return
	}
	token := m.client.Publish(reply, 1, false, b)
	if token.WaitTimeout(200*time.Millisecond) && token.Error() != nil {
		m.logger.Error().Err(token.Error()).Str("reply", reply).Msg("Timeout exceeded during publishing")
	}
}

func (m *Mqtt) onControl(_ pmqtt.Client, msg pmqtt.Message) {
	var ctl controlMessage

	if err := json.Unmarshal(msg.Payload(), &ctl); err != nil {
		m.logger.Error().Err(err).Msg("malformed control message")
		return
	}
	if ctl.Client == "" {
		m.logger.Warn().Str("action", ctl.Action).Msg("control message without client handle")
		return
	}

	switch ctl.Action {
	case "subscribe":
		m.diag.Subscribe(ctl.Service, ctl.Instance, ctl.Event, ctl.Client, m.SinkFor(ctl.Client))
	case "unsubscribe":
		m.diag.Unsubscribe(ctl.Service, ctl.Instance, ctl.Event, ctl.Client)
	case "disconnect":
		m.diag.DropSubscriber(ctl.Client)
	default:
		m.logger.Warn().Str("action", ctl.Action).Msg("unknown control action")
	}
}

// SinkFor returns the event sink delivering to one subscriber's topic.
func (m *Mqtt) SinkFor(client string) model.IEventSink {
	return &subscriberSink{m: m, topic: fmt.Sprintf("%s/%s/event", m.TopicPrefix, client)}
}

type subscriberSink struct {
	m     *Mqtt
	topic string
}

func (s *subscriberSink) PublishWarning(ev model.WarningEvent) error {
	var (
		err   error
		b     []byte
		token pmqtt.Token
	)

	b, err = json.Marshal(ev)
	if err != nil {
		s.m.logger.Error().Err(err).Str("event", fmt.Sprintf("%v", ev)).Msg("failed to marshal event")
		return errors.Join(err, errors.New("failed to marshal event"))
	}
	token = s.m.client.Publish(s.topic, 1, false, b)
	if token.WaitTimeout(200*time.Millisecond) && token.Error() != nil {
		s.m.logger.Error().Err(token.Error()).Str("topic", s.topic).Msg("Timeout exceeded during publishing")
		return token.Error()
	}
	return nil
}

// Disconnect terminates the connection to the MQTT broker and logs the disconnection event.
func (m *Mqtt) Disconnect() {
	m.client.Disconnect(500)
	m.logger.Info().Msg("Disconnected from mqtt broker")
	m.client = nil
}

func (m *Mqtt) Connect() error {
	m.client = pmqtt.NewClient(m.opt)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		m.logger.Error().Err(token.Error()).Msg("Error connecting to mqtt broker")
		return errors.Join(token.Error(), errors.New("Error connecting to mqtt broker"))
	}
	return nil
}

// ConnectHandler returns a function to handle successful connections to the MQTT broker.
// The returned function logs an informational message indicating a successful connection.
func ConnectHandler(logger zerolog.Logger) func(client pmqtt.Client) {
	return func(client pmqtt.Client) {
		logger.Info().Msg("Connected to mqtt broker")
	}
}

// ConnectLostHandler returns a function to handle lost connections to the MQTT broker.
// The returned function logs a warning message indicating a lost connection along with the error encountered.
func ConnectLostHandler(logger zerolog.Logger) func(client pmqtt.Client, err error) {
	return func(client pmqtt.Client, err error) {
		logger.Warn().Err(err).Msg("Connection Lost")
	}
}
