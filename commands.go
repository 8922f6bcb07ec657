package openwire

// BrokerInfo describes the broker at the far end of a connection.
type BrokerInfo struct {
	BaseCommand
	BrokerID                   *BrokerID
	BrokerURL                  string
	PeerBrokerInfos            []*BrokerInfo
	BrokerName                 string
	SlaveBroker                bool
	MasterBroker               bool
	FaultTolerantConfiguration bool
	DuplexConnection           bool
	NetworkConnection          bool
	ConnectionID               int64
	BrokerUploadURL            string
	NetworkProperties          string
}

func (*BrokerInfo) DataStructureType() byte { return BrokerInfoType }

func (b *BrokerInfo) marshalFields(c *fieldCodec) {
	b.BaseCommand.marshalFields(c)
	cached(c, &b.BrokerID)
	c.string(&b.BrokerURL)
	nestedArray(c, &b.PeerBrokerInfos)
	c.string(&b.BrokerName)
	c.bool(&b.SlaveBroker)
	if c.since(2) {
		c.bool(&b.MasterBroker)
		c.bool(&b.FaultTolerantConfiguration)
		c.bool(&b.DuplexConnection)
		c.bool(&b.NetworkConnection)
		c.int64(&b.ConnectionID)
	}
	if c.since(3) {
		c.string(&b.BrokerUploadURL)
		c.string(&b.NetworkProperties)
	}
}

// ConnectionInfo opens a logical connection on the broker.
type ConnectionInfo struct {
	BaseCommand
	ConnectionID          *ConnectionID
	ClientID              string
	Password              string
	UserName              string
	BrokerPath            []*BrokerID
	BrokerMasterConnector bool
	Manageable            bool
	ClientMaster          bool
	FaultTolerant         bool
	FailoverReconnect     bool
	ClientIP              string
}

func (*ConnectionInfo) DataStructureType() byte { return ConnectionInfoType }

func (i *ConnectionInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ConnectionID)
	c.string(&i.ClientID)
	c.string(&i.Password)
	c.string(&i.UserName)
	nestedArray(c, &i.BrokerPath)
	c.bool(&i.BrokerMasterConnector)
	c.bool(&i.Manageable)
	if c.since(2) {
		c.bool(&i.ClientMaster)
	}
	if c.since(6) {
		c.bool(&i.FaultTolerant)
		c.bool(&i.FailoverReconnect)
	}
	if c.since(8) {
		c.string(&i.ClientIP)
	}
}

// RemoveCommand returns the RemoveInfo that closes this connection.
func (i *ConnectionInfo) RemoveCommand() *RemoveInfo {
	return &RemoveInfo{ObjectID: i.ConnectionID}
}

// SessionInfo opens a session within a connection.
type SessionInfo struct {
	BaseCommand
	SessionID *SessionID
}

func (*SessionInfo) DataStructureType() byte { return SessionInfoType }

func (i *SessionInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.SessionID)
}

// RemoveCommand returns the RemoveInfo that closes this session.
func (i *SessionInfo) RemoveCommand() *RemoveInfo {
	return &RemoveInfo{ObjectID: i.SessionID}
}

// ConsumerInfo registers a consumer on a destination.
type ConsumerInfo struct {
	BaseCommand
	ConsumerID                 *ConsumerID
	Browser                    bool
	Destination                Destination
	PrefetchSize               int32
	MaximumPendingMessageLimit int32
	DispatchAsync              bool
	Selector                   string
	SubscriptionName           string
	NoLocal                    bool
	Exclusive                  bool
	Retroactive                bool
	Priority                   byte
	BrokerPath                 []*BrokerID
	AdditionalPredicate        DataStructure
	NetworkSubscription        bool
	OptimizedAcknowledge       bool
	NoRangeAcks                bool
	NetworkConsumerPath        []*ConsumerID
}

func (*ConsumerInfo) DataStructureType() byte { return ConsumerInfoType }

func (i *ConsumerInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ConsumerID)
	c.bool(&i.Browser)
	cached(c, &i.Destination)
	c.int32(&i.PrefetchSize)
	c.int32(&i.MaximumPendingMessageLimit)
	c.bool(&i.DispatchAsync)
	c.string(&i.Selector)
	c.string(&i.SubscriptionName)
	c.bool(&i.NoLocal)
	c.bool(&i.Exclusive)
	c.bool(&i.Retroactive)
	c.byteField(&i.Priority)
	nestedArray(c, &i.BrokerPath)
	nested(c, &i.AdditionalPredicate)
	c.bool(&i.NetworkSubscription)
	c.bool(&i.OptimizedAcknowledge)
	c.bool(&i.NoRangeAcks)
	if c.since(4) {
		nestedArray(c, &i.NetworkConsumerPath)
	}
}

// IsDurable reports whether the consumer names a durable subscription.
func (i *ConsumerInfo) IsDurable() bool { return i.SubscriptionName != "" }

// RemoveCommand returns the RemoveInfo that closes this consumer.
func (i *ConsumerInfo) RemoveCommand() *RemoveInfo {
	return &RemoveInfo{ObjectID: i.ConsumerID}
}

// ProducerInfo registers a producer.
type ProducerInfo struct {
	BaseCommand
	ProducerID    *ProducerID
	Destination   Destination
	BrokerPath    []*BrokerID
	DispatchAsync bool
	WindowSize    int32
}

func (*ProducerInfo) DataStructureType() byte { return ProducerInfoType }

func (i *ProducerInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ProducerID)
	cached(c, &i.Destination)
	nestedArray(c, &i.BrokerPath)
	if c.since(2) {
		c.bool(&i.DispatchAsync)
	}
	if c.since(3) {
		c.int32(&i.WindowSize)
	}
}

// RemoveCommand returns the RemoveInfo that closes this producer.
func (i *ProducerInfo) RemoveCommand() *RemoveInfo {
	return &RemoveInfo{ObjectID: i.ProducerID}
}

// Transaction operation codes carried by TransactionInfo.
const (
	TransactionBegin          byte = 0
	TransactionPrepare        byte = 1
	TransactionCommitOnePhase byte = 2
	TransactionCommitTwoPhase byte = 3
	TransactionRollback       byte = 4
	TransactionRecover        byte = 5
	TransactionForget         byte = 6
	TransactionEnd            byte = 7
)

// TransactionInfo drives a transaction through its lifecycle.
type TransactionInfo struct {
	BaseCommand
	ConnectionID  *ConnectionID
	TransactionID TransactionID
	Type          byte
}

func (*TransactionInfo) DataStructureType() byte { return TransactionInfoType }

func (i *TransactionInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ConnectionID)
	cached(c, &i.TransactionID)
	c.byteField(&i.Type)
}

// DestinationInfo operation codes.
const (
	DestinationAdd    byte = 0
	DestinationRemove byte = 1
)

// DestinationInfo creates or removes a destination, typically a temporary one.
type DestinationInfo struct {
	BaseCommand
	ConnectionID  *ConnectionID
	Destination   Destination
	OperationType byte
	Timeout       int64
	BrokerPath    []*BrokerID
}

func (*DestinationInfo) DataStructureType() byte { return DestinationInfoType }

func (i *DestinationInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ConnectionID)
	cached(c, &i.Destination)
	c.byteField(&i.OperationType)
	c.int64(&i.Timeout)
	nestedArray(c, &i.BrokerPath)
}

func (i *DestinationInfo) IsAdd() bool    { return i.OperationType == DestinationAdd }
func (i *DestinationInfo) IsRemove() bool { return i.OperationType == DestinationRemove }

// RemoveSubscriptionInfo deletes a durable subscription.
type RemoveSubscriptionInfo struct {
	BaseCommand
	ConnectionID     *ConnectionID
	SubscriptionName string
	ClientID         string
}

func (*RemoveSubscriptionInfo) DataStructureType() byte { return RemoveSubscriptionInfoType }

func (i *RemoveSubscriptionInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ConnectionID)
	c.string(&i.SubscriptionName)
	c.string(&i.ClientID)
}

// KeepAliveInfo is sent when the write side has been idle.
type KeepAliveInfo struct {
	BaseCommand
}

func (*KeepAliveInfo) DataStructureType() byte { return KeepAliveInfoType }

// ShutdownInfo announces an orderly disconnect.
type ShutdownInfo struct {
	BaseCommand
}

func (*ShutdownInfo) DataStructureType() byte { return ShutdownInfoType }

// FlushCommand asks the peer to flush pending work.
type FlushCommand struct {
	BaseCommand
}

func (*FlushCommand) DataStructureType() byte { return FlushCommandType }

// RemoveInfo disposes of a connection, session, producer or consumer.
type RemoveInfo struct {
	BaseCommand
	ObjectID                DataStructure
	LastDeliveredSequenceID int64
}

func (*RemoveInfo) DataStructureType() byte { return RemoveInfoType }

func (i *RemoveInfo) marshalFields(c *fieldCodec) {
	i.BaseCommand.marshalFields(c)
	cached(c, &i.ObjectID)
	if c.since(5) {
		c.int64(&i.LastDeliveredSequenceID)
	}
}

// ControlCommand carries a free-form control string.
type ControlCommand struct {
	BaseCommand
	Command string
}

func (*ControlCommand) DataStructureType() byte { return ControlCommandType }

func (cc *ControlCommand) marshalFields(c *fieldCodec) {
	cc.BaseCommand.marshalFields(c)
	c.string(&cc.Command)
}

// ConnectionError is an unsolicited broker failure report.
type ConnectionError struct {
	BaseCommand
	Exception    *BrokerError
	ConnectionID *ConnectionID
}

func (*ConnectionError) DataStructureType() byte { return ConnectionErrorType }

func (e *ConnectionError) marshalFields(c *fieldCodec) {
	e.BaseCommand.marshalFields(c)
	c.throwable(&e.Exception)
	nested(c, &e.ConnectionID)
}

// ConsumerControl adjusts a consumer's prefetch or run state.
type ConsumerControl struct {
	BaseCommand
	Destination Destination
	Close       bool
	ConsumerID  *ConsumerID
	Prefetch    int32
	Flush       bool
	Start       bool
	Stop        bool
}

func (*ConsumerControl) DataStructureType() byte { return ConsumerControlType }

func (cc *ConsumerControl) marshalFields(c *fieldCodec) {
	cc.BaseCommand.marshalFields(c)
	if c.since(6) {
		nested(c, &cc.Destination)
	}
	c.bool(&cc.Close)
	nested(c, &cc.ConsumerID)
	c.int32(&cc.Prefetch)
	if c.since(2) {
		c.bool(&cc.Flush)
		c.bool(&cc.Start)
		c.bool(&cc.Stop)
	}
}

// ConnectionControl is sent by the broker to steer a connection.
type ConnectionControl struct {
	BaseCommand
	Close               bool
	Exit                bool
	FaultTolerant       bool
	Resume              bool
	Suspend             bool
	ConnectedBrokers    string
	ReconnectTo         string
	RebalanceConnection bool
	Token               []byte
}

func (*ConnectionControl) DataStructureType() byte { return ConnectionControlType }

func (cc *ConnectionControl) marshalFields(c *fieldCodec) {
	cc.BaseCommand.marshalFields(c)
	c.bool(&cc.Close)
	c.bool(&cc.Exit)
	c.bool(&cc.FaultTolerant)
	c.bool(&cc.Resume)
	c.bool(&cc.Suspend)
	if c.since(6) {
		c.string(&cc.ConnectedBrokers)
		c.string(&cc.ReconnectTo)
		c.bool(&cc.RebalanceConnection)
	}
	if c.since(9) {
		c.bytes(&cc.Token)
	}
}

// ProducerAck returns send window credit to a producer.
type ProducerAck struct {
	BaseCommand
	ProducerID *ProducerID
	Size       int32
}

func (*ProducerAck) DataStructureType() byte { return ProducerAckType }

func (a *ProducerAck) marshalFields(c *fieldCodec) {
	a.BaseCommand.marshalFields(c)
	nested(c, &a.ProducerID)
	c.int32(&a.Size)
}

// MessagePull requests a message for a zero-prefetch consumer.
type MessagePull struct {
	BaseCommand
	ConsumerID    *ConsumerID
	Destination   Destination
	Timeout       int64
	CorrelationID string
	MessageID     *MessageID
}

func (*MessagePull) DataStructureType() byte { return MessagePullType }

func (p *MessagePull) marshalFields(c *fieldCodec) {
	p.BaseCommand.marshalFields(c)
	cached(c, &p.ConsumerID)
	cached(c, &p.Destination)
	c.int64(&p.Timeout)
	if c.since(3) {
		c.string(&p.CorrelationID)
	}
	if c.since(4) {
		nested(c, &p.MessageID)
	}
}

// MessageDispatch delivers a message to a consumer. A nil Message marks
// the end of a browse.
type MessageDispatch struct {
	BaseCommand
	ConsumerID        *ConsumerID
	Destination       Destination
	Message           MessageCommand
	RedeliveryCounter int32
}

func (*MessageDispatch) DataStructureType() byte { return MessageDispatchType }

func (d *MessageDispatch) marshalFields(c *fieldCodec) {
	d.BaseCommand.marshalFields(c)
	cached(c, &d.ConsumerID)
	cached(c, &d.Destination)
	nested(c, &d.Message)
	c.int32(&d.RedeliveryCounter)
}

// Acknowledgement modes carried by MessageAck.
const (
	AckDelivered   byte = 0
	AckPoison      byte = 1
	AckStandard    byte = 2
	AckRedelivered byte = 3
	AckIndividual  byte = 4
	AckUnmatched   byte = 5
	AckExpired     byte = 6
)

// MessageAck acknowledges one message or a range of messages.
type MessageAck struct {
	BaseCommand
	Destination    Destination
	TransactionID  TransactionID
	ConsumerID     *ConsumerID
	AckType        byte
	FirstMessageID *MessageID
	LastMessageID  *MessageID
	MessageCount   int32
	PoisonCause    *BrokerError
}

func (*MessageAck) DataStructureType() byte { return MessageAckType }

func (a *MessageAck) marshalFields(c *fieldCodec) {
	a.BaseCommand.marshalFields(c)
	cached(c, &a.Destination)
	cached(c, &a.TransactionID)
	cached(c, &a.ConsumerID)
	c.byteField(&a.AckType)
	nested(c, &a.FirstMessageID)
	nested(c, &a.LastMessageID)
	c.int32(&a.MessageCount)
	if c.since(7) {
		c.throwable(&a.PoisonCause)
	}
}

// NewMessageAck acknowledges the message carried by d.
func NewMessageAck(d *MessageDispatch, ackType byte, count int32) *MessageAck {
	ack := &MessageAck{
		Destination:  d.Destination,
		ConsumerID:   d.ConsumerID,
		AckType:      ackType,
		MessageCount: count,
	}
	if d.Message != nil {
		m := d.Message.MessageBase()
		ack.FirstMessageID = m.MessageID
		ack.LastMessageID = m.MessageID
		ack.TransactionID = m.TransactionID
	}
	return ack
}

// MessageDispatchNotification tells a slave which message was dispatched.
type MessageDispatchNotification struct {
	BaseCommand
	ConsumerID         *ConsumerID
	Destination        Destination
	DeliverySequenceID int64
	MessageID          *MessageID
}

func (*MessageDispatchNotification) DataStructureType() byte {
	return MessageDispatchNotificationType
}

func (n *MessageDispatchNotification) marshalFields(c *fieldCodec) {
	n.BaseCommand.marshalFields(c)
	cached(c, &n.ConsumerID)
	cached(c, &n.Destination)
	c.int64(&n.DeliverySequenceID)
	nested(c, &n.MessageID)
}

// DiscoveryEvent announces a broker service. It is not a command and only
// travels nested inside other structures.
type DiscoveryEvent struct {
	ServiceName string
	BrokerName  string
}

func (*DiscoveryEvent) DataStructureType() byte { return DiscoveryEventType }

func (e *DiscoveryEvent) marshalFields(c *fieldCodec) {
	c.string(&e.ServiceName)
	c.string(&e.BrokerName)
}

// PartialCommand is one fragment of a command split across datagrams.
// Only the command id travels on the wire.
type PartialCommand struct {
	BaseCommand
	Data []byte
}

func (*PartialCommand) DataStructureType() byte { return PartialCommandType }

func (p *PartialCommand) marshalFields(c *fieldCodec) {
	c.int32(&p.CommandID)
	c.bytes(&p.Data)
}

// LastPartialCommand is the final fragment of a split command.
type LastPartialCommand struct {
	PartialCommand
}

func (*LastPartialCommand) DataStructureType() byte { return LastPartialCommandType }

// ReplayCommand asks the peer to resend a range of commands.
type ReplayCommand struct {
	BaseCommand
	FirstNakNumber int32
	LastNakNumber  int32
}

func (*ReplayCommand) DataStructureType() byte { return ReplayCommandType }

func (r *ReplayCommand) marshalFields(c *fieldCodec) {
	r.BaseCommand.marshalFields(c)
	c.int32(&r.FirstNakNumber)
	c.int32(&r.LastNakNumber)
}
