package storage

import (
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/janelia-flyem/labelset/dvid"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * dvid.Kilo

// KafkaConfig describes kafka servers used for activity logging.
type KafkaConfig struct {
	TopicActivity string // if supplied, will be override topic for activity log
	Servers       []string
	BufferSize    int // max messages buffered by the producer
}

// ActivityLog sends JSON activity records to a kafka topic.  A nil *ActivityLog is valid
// and discards all records.
type ActivityLog struct {
	producer sarama.AsyncProducer
	topic    string

	done chan struct{}
	once sync.Once
}

// NewActivityLog returns an activity log for the configured servers or nil if no kafka
// servers are configured.
func (kc KafkaConfig) NewActivityLog(hostID string) (*ActivityLog, error) {
	if len(kc.Servers) == 0 {
		return nil, nil
	}
	topic := kc.TopicActivity
	if topic == "" {
		topic = "labelsetactivity-" + hostID
	}
	reg, err := regexp.Compile(`[^a-zA-Z0-9\\._\\-]+`)
	if err != nil {
		return nil, err
	}
	topic = reg.ReplaceAllString(topic, "-")

	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}
	producer, err := sarama.NewAsyncProducer(kc.Servers, config)
	if err != nil {
		return nil, err
	}
	dvid.Infof("Kafka topic for activity: %s\n", topic)
	return NewActivityLogWithProducer(producer, topic), nil
}

// NewActivityLogWithProducer returns an activity log that sends through the given producer.
func NewActivityLogWithProducer(producer sarama.AsyncProducer, topic string) *ActivityLog {
	a := &ActivityLog{
		producer: producer,
		topic:    topic,
		done:     make(chan struct{}),
	}
	go func() {
		for err := range producer.Errors() {
			dvid.Errorf("error on kafka send to topic %q: %v\n", topic, err)
		}
		close(a.done)
	}()
	return a
}

// Topic returns the kafka topic receiving activity records.
func (a *ActivityLog) Topic() string {
	if a == nil {
		return ""
	}
	return a.topic
}

// Log sends an activity record.  A "time" field is added if not present.
func (a *ActivityLog) Log(activity map[string]interface{}) {
	if a == nil {
		return
	}
	if _, found := activity["time"]; !found {
		activity["time"] = time.Now().Unix()
	}
	data, err := json.Marshal(activity)
	if err != nil {
		dvid.Errorf("unable to marshal activity for kafka logging: %v\n", err)
		return
	}
	a.producer.Input() <- &sarama.ProducerMessage{
		Topic: a.topic,
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes any queued records and stops the producer.
func (a *ActivityLog) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		if err := a.producer.Close(); err != nil {
			dvid.Errorf("Kafka producer had error on close: %v\n", err)
		} else {
			dvid.Infof("Successfully shut down kafka producer.\n")
		}
		<-a.done
	})
}
