package event_hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// connection string can have the event hub name like this
// Endpoint=sb://<namespace>.servicebus.windows.net/;SharedAccessKeyName=<KeyName>;SharedAccessKey=<KeyValue>;EntityPath=vehicle-diag-warnings
// see https://learn.microsoft.com/en-us/azure/event-hubs/event-hubs-get-connection-string

type EventHubConfig struct {
	Connection   string `yaml:"connection"`
	EventHubName string `yaml:"EventHubName"`
}

// EventHub forwards warning events to the fleet diagnostic gateway uplink.
type EventHub struct {
	producerClient *azeventhubs.ProducerClient
}

func NewEventHub(ctx context.Context, wg *sync.WaitGroup, conf EventHubConfig) (*EventHub, error) {
	var (
		err            error
		producerClient *azeventhubs.ProducerClient
	)
	producerClient, err = azeventhubs.NewProducerClientFromConnectionString(conf.Connection, conf.EventHubName, nil)

	if err != nil {
		return nil, errors.Join(err, errors.New("failed to create producer client"))
	}

	wg.Add(1)
	go func() {
		<-ctx.Done()
		err = producerClient.Close(ctx)
		if err != nil {
			log.Printf("failed to close producer client: %s", err)
		}
		wg.Done()
	}()

	return &EventHub{
		producerClient: producerClient,
	}, nil
}

func (e EventHub) PublishWarning(ev model.WarningEvent) error {
	var (
		buf             []byte
		err             error
		msg             *azeventhubs.EventData
		newBatchOptions *azeventhubs.EventDataBatchOptions
	)

	buf, err = json.Marshal(ev)
	if err != nil {
		return errors.Join(err, errors.New("failed to marshal warning event"))
	}

	newBatchOptions = &azeventhubs.EventDataBatchOptions{
		// Leave PartitionID and PartitionKey nil, the service picks a
		// partition.
	}

	batch, err := e.producerClient.NewEventDataBatch(context.TODO(), newBatchOptions)
	if err != nil {
		return errors.Join(err, errors.New("failed to create event data batch"))
	}

	msg = &azeventhubs.EventData{Body: buf}

retry:
	err = batch.AddEventData(msg, nil)

	if errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
		if batch.NumEvents() == 0 {
			// This one event is too large for this batch, even on its own.
			return errors.Join(err, errors.New("failed to publish warning, event is too large"))
		}

		// This batch is full - send it, create a new one and continue.
		if err = e.producerClient.SendEventDataBatch(context.TODO(), batch, nil); err != nil {
			return errors.Join(err, errors.New("failed to publish warning, couldn't send the batch"))
		}

		tmpBatch, err := e.producerClient.NewEventDataBatch(context.TODO(), newBatchOptions)

		if err != nil {
			return errors.Join(err, errors.New("failed to publish warning, couldn't create a new batch"))
		}

		batch = tmpBatch

		// rewind so we can retry adding this event to a batch
		goto retry
	} else if err != nil {
		return errors.Join(err, errors.New("failed to publish warning"))
	}

	if batch.NumEvents() > 0 {
		if err := e.producerClient.SendEventDataBatch(context.TODO(), batch, nil); err != nil {
			return errors.Join(err, errors.New("failed to publish warning, couldn't send the batch"))
		}
	}

	return nil
}
