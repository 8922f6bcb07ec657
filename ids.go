package openwire

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// ConnectionID identifies a connection.
type ConnectionID struct {
	Value string
}

// NewConnectionID creates a ConnectionID.
func NewConnectionID(value string) *ConnectionID {
	return &ConnectionID{Value: value}
}

func (*ConnectionID) DataStructureType() byte { return ConnectionIDType }

func (id *ConnectionID) marshalFields(c *fieldCodec) {
	c.string(&id.Value)
}

func (id *ConnectionID) String() string { return id.Value }

// SessionID identifies a session within a connection.
type SessionID struct {
	ConnectionID string
	Value        int64
}

// NewSessionID creates the session identifier with the given sequence value.
func NewSessionID(conn *ConnectionID, value int64) *SessionID {
	return &SessionID{ConnectionID: conn.Value, Value: value}
}

func (*SessionID) DataStructureType() byte { return SessionIDType }

func (id *SessionID) marshalFields(c *fieldCodec) {
	c.string(&id.ConnectionID)
	c.int64(&id.Value)
}

// Parent returns the owning connection identifier.
func (id *SessionID) Parent() *ConnectionID {
	return &ConnectionID{Value: id.ConnectionID}
}

func (id *SessionID) String() string {
	return id.ConnectionID + ":" + strconv.FormatInt(id.Value, 10)
}

// ConsumerID identifies a consumer within a session.
type ConsumerID struct {
	ConnectionID string
	SessionID    int64
	Value        int64
}

// NewConsumerID creates the consumer identifier with the given sequence value.
func NewConsumerID(session *SessionID, value int64) *ConsumerID {
	return &ConsumerID{ConnectionID: session.ConnectionID, SessionID: session.Value, Value: value}
}

func (*ConsumerID) DataStructureType() byte { return ConsumerIDType }

func (id *ConsumerID) marshalFields(c *fieldCodec) {
	c.string(&id.ConnectionID)
	c.int64(&id.SessionID)
	c.int64(&id.Value)
}

// Parent returns the owning session identifier.
func (id *ConsumerID) Parent() *SessionID {
	return &SessionID{ConnectionID: id.ConnectionID, Value: id.SessionID}
}

func (id *ConsumerID) String() string {
	return id.ConnectionID + ":" + strconv.FormatInt(id.SessionID, 10) + ":" + strconv.FormatInt(id.Value, 10)
}

// ProducerID identifies a producer within a session.
type ProducerID struct {
	ConnectionID string
	Value        int64
	SessionID    int64
}

// NewProducerID creates the producer identifier with the given sequence value.
func NewProducerID(session *SessionID, value int64) *ProducerID {
	return &ProducerID{ConnectionID: session.ConnectionID, SessionID: session.Value, Value: value}
}

func (*ProducerID) DataStructureType() byte { return ProducerIDType }

func (id *ProducerID) marshalFields(c *fieldCodec) {
	c.string(&id.ConnectionID)
	c.int64(&id.Value)
	c.int64(&id.SessionID)
}

// Parent returns the owning session identifier.
func (id *ProducerID) Parent() *SessionID {
	return &SessionID{ConnectionID: id.ConnectionID, Value: id.SessionID}
}

func (id *ProducerID) String() string {
	return id.ConnectionID + ":" + strconv.FormatInt(id.SessionID, 10) + ":" + strconv.FormatInt(id.Value, 10)
}

// BrokerID identifies a broker. Broker ids compare case-insensitively.
type BrokerID struct {
	Value string
}

func (*BrokerID) DataStructureType() byte { return BrokerIDType }

func (id *BrokerID) marshalFields(c *fieldCodec) {
	c.string(&id.Value)
}

func (id *BrokerID) String() string { return id.Value }

// Compare orders broker ids by case-insensitive value. It returns 0 only
// when both values are equal ignoring case.
func (id *BrokerID) Compare(other *BrokerID) int {
	return strings.Compare(strings.ToLower(id.Value), strings.ToLower(other.Value))
}

// Equal reports case-insensitive equality.
func (id *BrokerID) Equal(other *BrokerID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return strings.EqualFold(id.Value, other.Value)
}

// MessageID identifies a message by its producer and sequence numbers.
type MessageID struct {
	ProducerID         *ProducerID
	ProducerSequenceID int64
	BrokerSequenceID   int64
}

func (*MessageID) DataStructureType() byte { return MessageIDType }

func (id *MessageID) marshalFields(c *fieldCodec) {
	cached(c, &id.ProducerID)
	c.int64(&id.ProducerSequenceID)
	c.int64(&id.BrokerSequenceID)
}

func (id *MessageID) String() string {
	producer := ""
	if id.ProducerID != nil {
		producer = id.ProducerID.String()
	}
	return producer + ":" + strconv.FormatInt(id.ProducerSequenceID, 10)
}

// TransactionID is implemented by LocalTransactionID and XATransactionID.
type TransactionID interface {
	DataStructure
	IsLocal() bool
	String() string
}

// LocalTransactionID identifies a transaction local to one connection.
type LocalTransactionID struct {
	Value        int64
	ConnectionID *ConnectionID
}

func (*LocalTransactionID) DataStructureType() byte { return LocalTransactionIDType }

func (id *LocalTransactionID) marshalFields(c *fieldCodec) {
	c.int64(&id.Value)
	cached(c, &id.ConnectionID)
}

// IsLocal returns true.
func (*LocalTransactionID) IsLocal() bool { return true }

func (id *LocalTransactionID) String() string {
	conn := ""
	if id.ConnectionID != nil {
		conn = id.ConnectionID.Value
	}
	return "TX:" + conn + ":" + strconv.FormatInt(id.Value, 10)
}

// XATransactionID identifies a distributed transaction branch.
type XATransactionID struct {
	FormatID            int32
	GlobalTransactionID []byte
	BranchQualifier     []byte
}

func (*XATransactionID) DataStructureType() byte { return XATransactionIDType }

func (id *XATransactionID) marshalFields(c *fieldCodec) {
	c.int32(&id.FormatID)
	c.bytes(&id.GlobalTransactionID)
	c.bytes(&id.BranchQualifier)
}

// IsLocal returns false.
func (*XATransactionID) IsLocal() bool { return false }

func (id *XATransactionID) String() string {
	return "XID:[" + strconv.FormatInt(int64(id.FormatID), 10) +
		",globalId=" + hex.EncodeToString(id.GlobalTransactionID) +
		",branchId=" + hex.EncodeToString(id.BranchQualifier) + "]"
}
