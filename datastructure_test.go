package openwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryTable(t *testing.T) {
	for i := range 256 {
		tag := byte(i)
		f := factories[tag]
		if f.create == nil {
			continue
		}
		t.Run(TypeName(tag), func(t *testing.T) {
			ds, err := New(tag, MaxSupportedVersion)
			require.NoError(t, err)
			assert.Equal(t, tag, ds.DataStructureType(), "tag must match the registered variant")
		})
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(MessageType, 1))
	assert.False(t, Supported(ProducerAckType, 2))
	assert.True(t, Supported(ProducerAckType, 3))
	assert.False(t, Supported(NullType, MaxSupportedVersion))
	assert.False(t, Supported(13, MaxSupportedVersion))

	_, err := New(200, MaxSupportedVersion)
	assert.ErrorIs(t, err, ErrUnknownDataType)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "ConsumerInfo", TypeName(ConsumerInfoType))
	assert.Equal(t, "LastPartialCommand", TypeName(LastPartialCommandType))
	assert.Equal(t, "Unknown(250)", TypeName(250))
}

func TestCommandClassification(t *testing.T) {
	assert.True(t, IsResponse(&Response{}))
	assert.True(t, IsResponse(&ExceptionResponse{}))
	assert.True(t, IsResponse(&DataArrayResponse{}))
	assert.False(t, IsResponse(&ConnectionInfo{}))

	assert.True(t, IsMessage(&TextMessage{}))
	assert.False(t, IsMessage(&MessageDispatch{}))

	var cmd Command = &SessionInfo{}
	cmd.Base().CommandID = 7
	cmd.Base().ResponseRequired = true
	assert.Equal(t, int32(7), cmd.(*SessionInfo).CommandID)
}

func TestRemoveCommands(t *testing.T) {
	conn := NewConnectionID("c")
	session := NewSessionID(conn, 1)
	consumer := NewConsumerID(session, 1)
	producer := NewProducerID(session, 1)

	assert.Same(t, conn, (&ConnectionInfo{ConnectionID: conn}).RemoveCommand().ObjectID)
	assert.Same(t, session, (&SessionInfo{SessionID: session}).RemoveCommand().ObjectID)
	assert.Same(t, consumer, (&ConsumerInfo{ConsumerID: consumer}).RemoveCommand().ObjectID)
	assert.Same(t, producer, (&ProducerInfo{ProducerID: producer}).RemoveCommand().ObjectID)
}

func TestNewMessageAck(t *testing.T) {
	msg := &TextMessage{}
	msg.MessageID = &MessageID{ProducerSequenceID: 1}
	msg.TransactionID = &LocalTransactionID{Value: 1}
	d := &MessageDispatch{ConsumerID: &ConsumerID{Value: 1}, Destination: NewQueue("Q"), Message: msg}

	ack := NewMessageAck(d, AckStandard, 5)
	assert.Equal(t, AckStandard, ack.AckType)
	assert.Equal(t, int32(5), ack.MessageCount)
	assert.Same(t, msg.MessageID, ack.FirstMessageID)
	assert.Same(t, msg.MessageID, ack.LastMessageID)
	assert.Equal(t, d.Destination, ack.Destination)
	assert.Equal(t, msg.TransactionID, ack.TransactionID)

	empty := NewMessageAck(&MessageDispatch{}, AckDelivered, 1)
	assert.Nil(t, empty.FirstMessageID)
}

func TestDump(t *testing.T) {
	assert.Equal(t, "nil", Dump(nil))

	info := &SessionInfo{BaseCommand: BaseCommand{CommandID: 3}, SessionID: &SessionID{ConnectionID: "c", Value: 1}}
	assert.Equal(t, "SessionInfo{CommandID:3, ResponseRequired:false, SessionID:c:1}", Dump(info))

	dest := &DestinationInfo{Destination: NewQueue("Q"), BrokerPath: []*BrokerID{{Value: "b"}}}
	out := Dump(dest)
	assert.Contains(t, out, "Destination:queue://Q")
	assert.Contains(t, out, "BrokerPath:[b]")
	assert.Contains(t, out, "ConnectionID:nil")
}
