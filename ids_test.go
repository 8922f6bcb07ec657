package openwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokerIDComparison(t *testing.T) {
	tests := []struct {
		a, b  string
		equal bool
		cmp   int
	}{
		{"ABC", "abc", true, 0},
		{"abc", "ABC", true, 0},
		{"B", "a", false, 1},
		{"a", "B", false, -1},
		{"broker", "broker-2", false, -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			a := &BrokerID{Value: tt.a}
			b := &BrokerID{Value: tt.b}
			assert.Equal(t, tt.equal, a.Equal(b))
			assert.Equal(t, tt.cmp, a.Compare(b))
		})
	}

	var nilID *BrokerID
	assert.True(t, nilID.Equal(nil))
	assert.False(t, nilID.Equal(&BrokerID{Value: "x"}))
}

func TestIdentifierHierarchy(t *testing.T) {
	conn := NewConnectionID("ID:host-1")
	session := NewSessionID(conn, 3)
	consumer := NewConsumerID(session, 4)
	producer := NewProducerID(session, 5)

	assert.Equal(t, "ID:host-1", conn.String())
	assert.Equal(t, "ID:host-1:3", session.String())
	assert.Equal(t, "ID:host-1:3:4", consumer.String())
	assert.Equal(t, "ID:host-1:3:5", producer.String())

	assert.Equal(t, conn, session.Parent())
	assert.Equal(t, session, consumer.Parent())
	assert.Equal(t, session, producer.Parent())
}

func TestIdentifiersAsMapKeys(t *testing.T) {
	m := map[ConsumerID]int{}
	m[*NewConsumerID(&SessionID{ConnectionID: "c", Value: 1}, 1)] = 1
	m[ConsumerID{ConnectionID: "c", SessionID: 1, Value: 1}]++

	assert.Len(t, m, 1)
	assert.Equal(t, 2, m[ConsumerID{ConnectionID: "c", SessionID: 1, Value: 1}])
}

func TestTransactionIDs(t *testing.T) {
	local := &LocalTransactionID{Value: 9, ConnectionID: NewConnectionID("ID:c")}
	assert.True(t, local.IsLocal())
	assert.Equal(t, "TX:ID:c:9", local.String())

	xa := &XATransactionID{FormatID: 1, GlobalTransactionID: []byte{0xAB}, BranchQualifier: []byte{0x01, 0x02}}
	assert.False(t, xa.IsLocal())
	assert.Equal(t, "XID:[1,globalId=ab,branchId=0102]", xa.String())
}

func TestMessageIDString(t *testing.T) {
	id := &MessageID{ProducerID: &ProducerID{ConnectionID: "ID:c", SessionID: 1, Value: 2}, ProducerSequenceID: 10}
	assert.Equal(t, "ID:c:1:2:10", id.String())
	assert.Equal(t, ":0", (&MessageID{}).String())
}
