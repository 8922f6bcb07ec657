package openwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvisoryTopics(t *testing.T) {
	q := NewQueue("ORDERS")
	tp := NewTopic("PRICES")

	tests := []struct {
		name string
		got  *Topic
		want string
	}{
		{"temp destinations", TempDestinationAdvisoryTopic(), "ActiveMQ.Advisory.TempQueue,ActiveMQ.Advisory.TempTopic"},
		{"connection", ConnectionAdvisoryTopic(), "ActiveMQ.Advisory.Connection"},
		{"queue", QueueAdvisoryTopic(), "ActiveMQ.Advisory.Queue"},
		{"topic", TopicAdvisoryTopic(), "ActiveMQ.Advisory.Topic"},
		{"queue consumer", ConsumerAdvisoryTopic(q), "ActiveMQ.Advisory.Consumer.Queue.ORDERS"},
		{"topic consumer", ConsumerAdvisoryTopic(tp), "ActiveMQ.Advisory.Consumer.Topic.PRICES"},
		{"queue producer", ProducerAdvisoryTopic(q), "ActiveMQ.Advisory.Producer.Queue.ORDERS"},
		{"topic producer", ProducerAdvisoryTopic(tp), "ActiveMQ.Advisory.Producer.Topic.PRICES"},
		{"expired", ExpiredMessageAdvisoryTopic(q), "ActiveMQ.Advisory.Expired.Queue.ORDERS"},
		{"no consumers", NoConsumersAdvisoryTopic(tp), "ActiveMQ.Advisory.NoConsumer.Topic.PRICES"},
		{"slow consumer", SlowConsumerAdvisoryTopic(q), "ActiveMQ.Advisory.SlowConsumer.Queue.ORDERS"},
		{"fast producer", FastProducerAdvisoryTopic(tp), "ActiveMQ.Advisory.FastProducer.Topic.PRICES"},
		{"dlq", MessageDLQdAdvisoryTopic(q), "ActiveMQ.Advisory.MessageDLQd.Queue.ORDERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.PhysicalName())
		})
	}

	assert.Len(t, CompositeDestinations(AllDestinationsAdvisoryTopic()), 4)
}

func TestIsAdvisoryTopic(t *testing.T) {
	tests := []struct {
		name string
		dest Destination
		want bool
	}{
		{"advisory topic", ConnectionAdvisoryTopic(), true},
		{"plain topic", NewTopic("PRICES"), false},
		{"queue with advisory name", NewQueue(AdvisoryTopicPrefix + "Queue"), false},
		{"composite with advisory", NewTopic("PRICES," + AdvisoryTopicPrefix + "Topic"), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAdvisoryTopic(tt.dest))
		})
	}
}

func TestIsTempDestinationAdvisoryTopic(t *testing.T) {
	assert.True(t, IsTempDestinationAdvisoryTopic(TempDestinationAdvisoryTopic()))
	assert.True(t, IsTempDestinationAdvisoryTopic(NewTopic(AdvisoryTopicPrefix+"TempQueue")))
	assert.False(t, IsTempDestinationAdvisoryTopic(QueueAdvisoryTopic()))
	assert.False(t, IsTempDestinationAdvisoryTopic(NewQueue(AdvisoryTopicPrefix+"TempTopic")))
	assert.False(t, IsTempDestinationAdvisoryTopic(nil))
}
