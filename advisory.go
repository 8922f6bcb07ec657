package openwire

import "strings"

// Advisory topic name prefixes published by the broker.
const (
	ProducerAdvisoryTopicPrefix      = AdvisoryTopicPrefix + "Producer."
	QueueProducerAdvisoryTopicPrefix = ProducerAdvisoryTopicPrefix + "Queue."
	TopicProducerAdvisoryTopicPrefix = ProducerAdvisoryTopicPrefix + "Topic."
	ConsumerAdvisoryTopicPrefix      = AdvisoryTopicPrefix + "Consumer."
	QueueConsumerAdvisoryTopicPrefix = ConsumerAdvisoryTopicPrefix + "Queue."
	TopicConsumerAdvisoryTopicPrefix = ConsumerAdvisoryTopicPrefix + "Topic."
	ExpiredTopicMessagesTopicPrefix  = AdvisoryTopicPrefix + "Expired.Topic."
	ExpiredQueueMessagesTopicPrefix  = AdvisoryTopicPrefix + "Expired.Queue."
	NoTopicConsumersTopicPrefix      = AdvisoryTopicPrefix + "NoConsumer.Topic."
	NoQueueConsumersTopicPrefix      = AdvisoryTopicPrefix + "NoConsumer.Queue."
	SlowConsumerTopicPrefix          = AdvisoryTopicPrefix + "SlowConsumer."
	FastProducerTopicPrefix          = AdvisoryTopicPrefix + "FastProducer."
	MessageDiscardedTopicPrefix      = AdvisoryTopicPrefix + "MessageDiscarded."
	MessageDeliveredTopicPrefix      = AdvisoryTopicPrefix + "MessageDelivered."
	MessageConsumedTopicPrefix       = AdvisoryTopicPrefix + "MessageConsumed."
	MessageDLQdTopicPrefix           = AdvisoryTopicPrefix + "MessageDLQd."
	MasterBrokerTopic                = AdvisoryTopicPrefix + "MasterBroker"
	NetworkBridgeTopic               = AdvisoryTopicPrefix + "NetworkBridge"
	AgentTopic                       = "ActiveMQ.Agent"

	// AdvisoryMessageType is the Type header of advisory messages.
	AdvisoryMessageType = "Advisory"
)

// Properties carried by advisory messages.
const (
	AdvisoryPropOriginBrokerID   = "originBrokerId"
	AdvisoryPropOriginBrokerName = "originBrokerName"
	AdvisoryPropOriginBrokerURL  = "originBrokerURL"
	AdvisoryPropConsumerID       = "consumerId"
	AdvisoryPropProducerID       = "producerId"
	AdvisoryPropMessageID        = "orignalMessageId"
	AdvisoryPropConsumerCount    = "consumerCount"
)

// TempDestinationAdvisoryTopic returns the composite topic that reports
// temporary queue and topic creation and removal.
func TempDestinationAdvisoryTopic() *Topic {
	return NewTopic(AdvisoryTopicPrefix + "TempQueue" + CompositeSeparator + AdvisoryTopicPrefix + "TempTopic")
}

// AllDestinationsAdvisoryTopic returns the composite topic reporting every
// destination lifecycle event.
func AllDestinationsAdvisoryTopic() *Topic {
	return NewTopic(AdvisoryTopicPrefix + "Queue" + CompositeSeparator +
		AdvisoryTopicPrefix + "Topic" + CompositeSeparator +
		AdvisoryTopicPrefix + "TempQueue" + CompositeSeparator +
		AdvisoryTopicPrefix + "TempTopic")
}

// ConnectionAdvisoryTopic returns the topic reporting connection events.
func ConnectionAdvisoryTopic() *Topic { return NewTopic(AdvisoryTopicPrefix + "Connection") }

// QueueAdvisoryTopic returns the topic reporting queue creation.
func QueueAdvisoryTopic() *Topic { return NewTopic(AdvisoryTopicPrefix + "Queue") }

// TopicAdvisoryTopic returns the topic reporting topic creation.
func TopicAdvisoryTopic() *Topic { return NewTopic(AdvisoryTopicPrefix + "Topic") }

// ConsumerAdvisoryTopic returns the topic that reports consumers on d.
func ConsumerAdvisoryTopic(d Destination) *Topic {
	if IsTopic(d) {
		return NewTopic(TopicConsumerAdvisoryTopicPrefix + d.PhysicalName())
	}
	return NewTopic(QueueConsumerAdvisoryTopicPrefix + d.PhysicalName())
}

// ProducerAdvisoryTopic returns the topic that reports producers on d.
func ProducerAdvisoryTopic(d Destination) *Topic {
	if IsTopic(d) {
		return NewTopic(TopicProducerAdvisoryTopicPrefix + d.PhysicalName())
	}
	return NewTopic(QueueProducerAdvisoryTopicPrefix + d.PhysicalName())
}

// ExpiredMessageAdvisoryTopic returns the topic reporting expired messages on d.
func ExpiredMessageAdvisoryTopic(d Destination) *Topic {
	if IsTopic(d) {
		return NewTopic(ExpiredTopicMessagesTopicPrefix + d.PhysicalName())
	}
	return NewTopic(ExpiredQueueMessagesTopicPrefix + d.PhysicalName())
}

// NoConsumersAdvisoryTopic returns the topic reporting messages sent to d
// while it had no consumers.
func NoConsumersAdvisoryTopic(d Destination) *Topic {
	if IsTopic(d) {
		return NewTopic(NoTopicConsumersTopicPrefix + d.PhysicalName())
	}
	return NewTopic(NoQueueConsumersTopicPrefix + d.PhysicalName())
}

// SlowConsumerAdvisoryTopic returns the topic reporting slow consumers on d.
func SlowConsumerAdvisoryTopic(d Destination) *Topic {
	return NewTopic(SlowConsumerTopicPrefix + advisoryKindName(d) + "." + d.PhysicalName())
}

// FastProducerAdvisoryTopic returns the topic reporting fast producers on d.
func FastProducerAdvisoryTopic(d Destination) *Topic {
	return NewTopic(FastProducerTopicPrefix + advisoryKindName(d) + "." + d.PhysicalName())
}

// MessageDLQdAdvisoryTopic returns the topic reporting messages from d
// sent to a dead letter queue.
func MessageDLQdAdvisoryTopic(d Destination) *Topic {
	return NewTopic(MessageDLQdTopicPrefix + advisoryKindName(d) + "." + d.PhysicalName())
}

func advisoryKindName(d Destination) string {
	if IsTopic(d) {
		return "Topic"
	}
	return "Queue"
}

// IsAdvisoryTopic reports whether d is a broker advisory topic, or a
// composite containing one.
func IsAdvisoryTopic(d Destination) bool {
	if d == nil || !IsTopic(d) {
		return false
	}
	for _, c := range CompositeDestinations(d) {
		if IsAdvisoryTopic(c) {
			return true
		}
	}
	return strings.HasPrefix(d.PhysicalName(), AdvisoryTopicPrefix)
}

// IsTempDestinationAdvisoryTopic reports whether d reports temporary
// destination events.
func IsTempDestinationAdvisoryTopic(d Destination) bool {
	if d == nil || !IsTopic(d) {
		return false
	}
	for _, c := range CompositeDestinations(d) {
		if IsTempDestinationAdvisoryTopic(c) {
			return true
		}
	}
	name := d.PhysicalName()
	return name == AdvisoryTopicPrefix+"TempQueue" || name == AdvisoryTopicPrefix+"TempTopic"
}
