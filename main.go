package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Go-routine-4595/vehicle-diag/adapters/controller"
	"github.com/Go-routine-4595/vehicle-diag/adapters/gateway/display"
	event_hub "github.com/Go-routine-4595/vehicle-diag/adapters/gateway/event-hub"
	"github.com/Go-routine-4595/vehicle-diag/adapters/gateway/mqtt"
	"github.com/Go-routine-4595/vehicle-diag/adapters/gateway/rabbitmq"
	"github.com/Go-routine-4595/vehicle-diag/adapters/inference"
	"github.com/Go-routine-4595/vehicle-diag/model"
	"github.com/Go-routine-4595/vehicle-diag/service"
)

type Config struct {
	mqtt.MqttConf               `yaml:"MqttConfig"`
	rabbitmq.RabbitMQConfig     `yaml:"RabbitConfig"`
	event_hub.EventHubConfig    `yaml:"EventHubConfig"`
	controller.ControllerConfig `yaml:"ControllerConfig"`
	Diagnostics                 service.Config `yaml:"Diagnostics"`
	ModelPath                   string         `yaml:"ModelPath"`
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vehicle-diag",
	Short: "In-vehicle subsystem diagnostic services on the middleware bus",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "config.yaml", "path to the yaml configuration file")
	if err := rootCmd.Execute(); err != nil {
		processError(err)
	}
}

func run() {
	var (
		conf   Config
		gate   model.IInference
		ctx    context.Context
		cancel context.CancelFunc
		sig    chan os.Signal
		wg     *sync.WaitGroup
	)

	wg = &sync.WaitGroup{}
	ctx, cancel = context.WithCancel(context.Background())

	conf = openConfigFile(cfgFile)

	logger := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	// The bus must be reachable or the whole startup fails.
	bus, err := mqtt.NewMqtt(conf.MqttConf, 0, ctx, wg)
	if err != nil {
		processError(errors.Join(err, errors.New("bus transport unavailable")))
	}

	// The advisory classifier is optional equipment.
	if conf.ModelPath != "" {
		g, err := inference.NewGate(conf.ModelPath, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("advisory model unavailable, rule-based evaluation only")
		} else {
			gate = g
		}
	}

	svc := service.New(conf.Diagnostics, logger, gate, bus.Offer)
	bus.Bind(svc)

	if err = svc.Init(); err != nil {
		processError(err)
	}

	// Warning events fan out to the gateway queue and, when configured,
	// to the fleet uplink. Without an uplink the events also land on the
	// local display.
	rabbit := rabbitmq.NewRabbitMQ(conf.RabbitMQConfig)
	rabbit.Start(ctx, wg)
	subscribeAll(svc, "gateway-queue", rabbit)

	if conf.EventHubConfig.Connection != "" {
		eh, err := event_hub.NewEventHub(ctx, wg, conf.EventHubConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("event hub uplink unavailable, using display")
			subscribeAll(svc, "display", display.NewDisplay())
		} else {
			subscribeAll(svc, "fleet-uplink", eh)
		}
	} else {
		subscribeAll(svc, "display", display.NewDisplay())
	}

	if err = svc.Start(); err != nil {
		processError(err)
	}

	ctl := controller.NewController(conf.ControllerConfig, svc)
	ctl.Start(ctx, wg)

	sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		svc.Stop()
		cancel()
	}()
	wg.Wait()
}

// subscribeAll registers one sink for the warning event of every
// subsystem service.
func subscribeAll(svc *service.Diagnostics, handle string, sink model.IEventSink) {
	for _, id := range []uint16{service.BatteryServiceID, service.TireServiceID, service.MotorServiceID} {
		svc.Subscribe(id, service.InstanceID, service.WarningEventID, handle, sink)
	}
}

func openConfigFile(s string) Config {
	if s == "" {
		s = "config.yaml"
	}

	f, err := os.Open(s)
	if err != nil {
		processError(errors.Join(err, errors.New("open config.yaml file")))
	}
	defer f.Close()

	var config Config
	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&config)
	if err != nil {
		processError(err)
	}
	return config

}

func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}
