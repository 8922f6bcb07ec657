package openwire

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// negotiatedPair returns a sending and a receiving wire format that have
// exchanged their preferred infos.
func negotiatedPair(t *testing.T, opts ...WireFormatOption) (*WireFormat, *WireFormat) {
	t.Helper()
	out := NewWireFormat(opts...)
	in := NewWireFormat(opts...)
	require.NoError(t, out.Renegotiate(in.PreferredWireFormatInfo()))
	require.NoError(t, in.Renegotiate(out.PreferredWireFormatInfo()))
	return out, in
}

func roundTrip(t *testing.T, out, in *WireFormat, ds DataStructure) DataStructure {
	t.Helper()
	frame, err := out.Marshal(ds)
	require.NoError(t, err)
	got, err := in.UnmarshalBytes(frame)
	require.NoError(t, err)
	return got
}

func sampleBrokerError() *BrokerError {
	return &BrokerError{
		ExceptionClass: SecurityExceptionClass,
		Message:        "User name [guest] or password is invalid.",
		StackTrace: []StackTraceElement{
			{ClassName: "org.apache.activemq.security.JaasAuthenticationBroker", MethodName: "addConnection", FileName: "JaasAuthenticationBroker.java", LineNumber: 80},
		},
		Cause: &BrokerError{
			ExceptionClass: "javax.security.auth.login.FailedLoginException",
			Message:        "Password does not match",
			StackTrace: []StackTraceElement{
				{ClassName: "org.apache.activemq.jaas.PropertiesLoginModule", MethodName: "login", FileName: "PropertiesLoginModule.java", LineNumber: 92},
			},
		},
	}
}

func mustSet(err error) {
	if err != nil {
		panic(err)
	}
}

func sampleCommands() map[string]DataStructure {
	conn := NewConnectionID("ID:client-1")
	session := NewSessionID(conn, 1)
	consumer := NewConsumerID(session, 2)
	producer := NewProducerID(session, 3)
	queue := NewQueue("TEST.QUEUE")
	topic := NewTopic("TEST.TOPIC")
	msgID := &MessageID{ProducerID: producer, ProducerSequenceID: 7, BrokerSequenceID: 70000}
	localTx := &LocalTransactionID{Value: 12, ConnectionID: conn}
	xaTx := &XATransactionID{FormatID: 5, GlobalTransactionID: []byte{1, 2, 3}, BranchQualifier: []byte{4}}
	broker := &BrokerID{Value: "ID:broker-1"}

	text := &TextMessage{}
	text.ProducerID = producer
	text.Destination = queue
	text.MessageID = msgID
	text.Persistent = true
	text.Priority = 4
	text.Timestamp = 1700000000000
	text.Expiration = 1700000060000
	text.CorrelationID = "corr-1"
	text.ReplyTo = NewTempQueue("ID:client-1:1")
	text.Type = "greeting"
	text.UserID = "guest"
	text.BrokerPath = []*BrokerID{broker}
	text.BrokerInTime = 1700000000001
	text.BrokerOutTime = 1700000000002
	text.MarshalledProperties = []byte{0, 0, 0, 0}
	text.Content = []byte{0, 0, 0, 2, 'h', 'i'}

	blob := &BlobMessage{RemoteBlobURL: "http://blobs/1", MimeType: "application/octet-stream", DeletedByBroker: true}
	blob.Destination = topic
	blob.MessageID = msgID

	plain := &Message{
		ProducerID:          producer,
		Destination:         queue,
		TransactionID:       localTx,
		OriginalDestination: topic,
		MessageID:           msgID,
		GroupID:             "group-a",
		GroupSequence:       2,
		TargetConsumerID:    consumer,
		RedeliveryCounter:   1,
		Arrival:             1700000000003,
		Droppable:           true,
		Cluster:             []*BrokerID{broker},
	}

	mapMsg := &MapMessage{Message: Message{Destination: queue, MessageID: msgID}}
	mustSet(mapMsg.SetMap(PrimitiveMap{"count": int32(3)}, false))

	stream := &StreamMessage{Message: Message{Destination: topic, MessageID: msgID}}
	mustSet(stream.SetValues([]any{true, int64(42), "last"}, false))

	object := &ObjectMessage{Message: Message{Destination: queue, ReplyTo: topic, MessageID: msgID}}
	mustSet(object.SetObject([]byte{0xac, 0xed, 0x00, 0x05}, true))

	return map[string]DataStructure{
		"WireFormatInfo": NewWireFormat().PreferredWireFormatInfo(),
		"BrokerInfo": &BrokerInfo{
			BrokerID:        broker,
			BrokerURL:       "tcp://localhost:61616",
			PeerBrokerInfos: []*BrokerInfo{{BrokerID: &BrokerID{Value: "peer"}, BrokerName: "peer"}},
			BrokerName:      "localhost",
			MasterBroker:    true,
			ConnectionID:    -3,
			BrokerUploadURL: "http://localhost/upload",
		},
		"ConnectionInfo": &ConnectionInfo{
			BaseCommand:  BaseCommand{CommandID: 1, ResponseRequired: true},
			ConnectionID: conn,
			ClientID:     "client-1",
			UserName:     "guest",
			Password:     "guest",
			BrokerPath:   []*BrokerID{},
			Manageable:   true,
			ClientIP:     "tcp://127.0.0.1:50000",
		},
		"SessionInfo": &SessionInfo{BaseCommand: BaseCommand{CommandID: 2}, SessionID: session},
		"ConsumerInfo": &ConsumerInfo{
			ConsumerID:          consumer,
			Destination:         topic,
			PrefetchSize:        1000,
			Selector:            "color = 'red'",
			SubscriptionName:    "durable",
			Priority:            1,
			NetworkConsumerPath: []*ConsumerID{consumer},
		},
		"ProducerInfo":           &ProducerInfo{ProducerID: producer, Destination: queue, WindowSize: 1024},
		"TransactionInfo":        &TransactionInfo{ConnectionID: conn, TransactionID: localTx, Type: TransactionCommitOnePhase},
		"TransactionInfoXA":      &TransactionInfo{ConnectionID: conn, TransactionID: xaTx, Type: TransactionPrepare},
		"DestinationInfo":        &DestinationInfo{ConnectionID: conn, Destination: NewTempTopic("ID:client-1:2"), OperationType: DestinationRemove, Timeout: 100},
		"RemoveSubscriptionInfo": &RemoveSubscriptionInfo{ConnectionID: conn, SubscriptionName: "durable", ClientID: "client-1"},
		"KeepAliveInfo":          &KeepAliveInfo{},
		"ShutdownInfo":           &ShutdownInfo{BaseCommand: BaseCommand{CommandID: 99}},
		"RemoveInfo":             &RemoveInfo{ObjectID: consumer, LastDeliveredSequenceID: 42},
		"ControlCommand":         &ControlCommand{Command: "shutdown"},
		"FlushCommand":           &FlushCommand{},
		"ConnectionError":        &ConnectionError{Exception: sampleBrokerError(), ConnectionID: conn},
		"ConsumerControl":        &ConsumerControl{Destination: queue, ConsumerID: consumer, Prefetch: 10, Start: true},
		"ConnectionControl":      &ConnectionControl{Suspend: true, ConnectedBrokers: "tcp://a,tcp://b", ReconnectTo: "tcp://b", Token: []byte("token")},
		"ProducerAck":            &ProducerAck{ProducerID: producer, Size: 512},
		"MessagePull":            &MessagePull{ConsumerID: consumer, Destination: queue, Timeout: 5000, CorrelationID: "pull-1", MessageID: msgID},
		"MessageDispatch":        &MessageDispatch{ConsumerID: consumer, Destination: queue, Message: text, RedeliveryCounter: 1},
		"MessageDispatchEnd":     &MessageDispatch{ConsumerID: consumer, Destination: queue},
		"MessageAck": &MessageAck{
			Destination:    queue,
			TransactionID:  localTx,
			ConsumerID:     consumer,
			AckType:        AckStandard,
			FirstMessageID: msgID,
			LastMessageID:  msgID,
			MessageCount:   3,
			PoisonCause:    NewBrokerError("java.lang.Throwable", "poison"),
		},
		"Message":                     plain,
		"TextMessage":                 text,
		"MapMessage":                  mapMsg,
		"StreamMessage":               stream,
		"ObjectMessage":               object,
		"BlobMessage":                 blob,
		"BytesMessage":                &BytesMessage{Message: Message{Destination: queue, Content: []byte{1, 2, 3}, Compressed: false}},
		"Response":                    &Response{CorrelationID: 1},
		"ExceptionResponse":           NewExceptionResponse(2, sampleBrokerError()),
		"DataResponse":                &DataResponse{Response: Response{CorrelationID: 3}, Data: &BrokerInfo{BrokerName: "b"}},
		"DataArrayResponse":           &DataArrayResponse{Response: Response{CorrelationID: 4}, Data: []DataStructure{queue, topic}},
		"IntegerResponse":             &IntegerResponse{Response: Response{CorrelationID: 5}, Result: -17},
		"PartialCommand":              &PartialCommand{BaseCommand: BaseCommand{CommandID: 10}, Data: []byte("part")},
		"LastPartialCommand":          &LastPartialCommand{PartialCommand{BaseCommand: BaseCommand{CommandID: 11}, Data: []byte("last")}},
		"ReplayCommand":               &ReplayCommand{FirstNakNumber: 3, LastNakNumber: 9},
		"MessageDispatchNotification": &MessageDispatchNotification{ConsumerID: consumer, Destination: queue, DeliverySequenceID: 1 << 40, MessageID: msgID},
		"DiscoveryEvent":              &DiscoveryEvent{ServiceName: "tcp://a:61616", BrokerName: "a"},
		"Queue":                       queue,
		"MessageID":                   msgID,
		"XATransactionID":             xaTx,
		"BrokerID":                    broker,
	}
}

func TestWireFormatRoundTrip(t *testing.T) {
	configs := map[string][]WireFormatOption{
		"tight cached":   {WithTightEncoding(true), WithCache(DefaultCacheSize)},
		"tight uncached": {WithTightEncoding(true), WithCache(0)},
		"loose cached":   {WithTightEncoding(false), WithCache(DefaultCacheSize)},
		"loose uncached": {WithTightEncoding(false), WithCache(0)},
	}

	for cfgName, opts := range configs {
		t.Run(cfgName, func(t *testing.T) {
			out, in := negotiatedPair(t, opts...)
			assert.Equal(t, MaxSupportedVersion, out.Version())

			for name, ds := range sampleCommands() {
				t.Run(name, func(t *testing.T) {
					got := roundTrip(t, out, in, ds)
					assert.Equal(t, ds, got)
				})
			}
		})
	}
}

func TestWireFormatRoundTripDefaults(t *testing.T) {
	out, in := negotiatedPair(t)

	for name, ds := range sampleCommands() {
		t.Run(name, func(t *testing.T) {
			empty, err := New(ds.DataStructureType(), MaxSupportedVersion)
			require.NoError(t, err)
			if _, ok := empty.(*WireFormatInfo); ok {
				return
			}
			got := roundTrip(t, out, in, empty)
			assert.Equal(t, empty, got)
		})
	}
}

func TestWireFormatInitialFormat(t *testing.T) {
	wf := NewWireFormat()
	assert.Equal(t, DefaultVersion, wf.Version())
	assert.False(t, wf.TightEncodingEnabled())
	assert.False(t, wf.CacheEnabled())
	assert.False(t, wf.SizePrefixDisabled())
	assert.False(t, wf.Negotiated())
	assert.Nil(t, wf.RemoteWireFormatInfo())

	info := wf.PreferredWireFormatInfo()
	frame, err := wf.Marshal(info)
	require.NoError(t, err)

	// size, type, then the magic
	assert.Equal(t, WireFormatInfoType, frame[4])
	assert.Equal(t, Magic[:], frame[5:13])

	got, err := NewWireFormat().UnmarshalBytes(frame)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestWireFormatNullFrame(t *testing.T) {
	wf := NewWireFormat()
	frame, err := wf.Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, NullType}, frame)

	var typedNil *KeepAliveInfo
	frame, err = wf.Marshal(typedNil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, NullType}, frame)

	got, err := wf.UnmarshalBytes(frame)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWireFormatSizePrefix(t *testing.T) {
	for _, tight := range []bool{true, false} {
		out, in := negotiatedPair(t, WithTightEncoding(tight))
		frame, err := out.Marshal(&SessionInfo{SessionID: &SessionID{ConnectionID: "c", Value: 1}})
		require.NoError(t, err)

		size := int(frame[0])<<24 | int(frame[1])<<16 | int(frame[2])<<8 | int(frame[3])
		assert.Equal(t, len(frame)-4, size)

		_, err = in.UnmarshalBytes(frame)
		require.NoError(t, err)
	}
}

func TestWireFormatSizePrefixDisabled(t *testing.T) {
	for _, tight := range []bool{true, false} {
		out, in := negotiatedPair(t, WithTightEncoding(tight), WithSizePrefixDisabled(true))
		require.True(t, out.SizePrefixDisabled())

		cmds := []DataStructure{
			&KeepAliveInfo{},
			&ConnectionInfo{ConnectionID: NewConnectionID("ID:c"), ClientID: "c"},
			&Response{CorrelationID: 5},
		}

		var buf bytes.Buffer
		for _, cmd := range cmds {
			require.NoError(t, out.MarshalTo(&buf, cmd))
		}

		stream := bytes.NewReader(buf.Bytes())
		for _, want := range cmds {
			got, err := in.Unmarshal(stream)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		_, err := in.Unmarshal(stream)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestWireFormatCache(t *testing.T) {
	out, in := negotiatedPair(t)
	require.True(t, out.CacheEnabled())

	producer := &ProducerID{ConnectionID: "ID:conn-with-a-long-identifier", SessionID: 1, Value: 1}
	dest := NewQueue("A.VERY.LONG.QUEUE.NAME.TO.MAKE.CACHING.VISIBLE")
	msg := func(seq int64) *Message {
		return &Message{
			ProducerID:  producer,
			Destination: dest,
			MessageID:   &MessageID{ProducerID: producer, ProducerSequenceID: seq},
		}
	}

	first, err := out.Marshal(msg(1))
	require.NoError(t, err)
	second, err := out.Marshal(msg(2))
	require.NoError(t, err)
	assert.Less(t, len(second), len(first))

	got1, err := in.UnmarshalBytes(first)
	require.NoError(t, err)
	got2, err := in.UnmarshalBytes(second)
	require.NoError(t, err)
	assert.Equal(t, msg(1), got1)
	assert.Equal(t, msg(2), got2)

	t.Run("same structure twice in one frame", func(t *testing.T) {
		m := msg(3)
		m.Destination = NewQueue("FRESH.QUEUE")
		m.OriginalDestination = NewQueue("FRESH.QUEUE")
		got := roundTrip(t, out, in, m)
		assert.Equal(t, m, got)
	})

	t.Run("cache miss", func(t *testing.T) {
		_, fresh := negotiatedPair(t)
		_, err := fresh.UnmarshalBytes(second)
		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.Equal(t, KindProtocol, KindOf(err))
	})
}

func TestWireFormatCacheEviction(t *testing.T) {
	out, in := negotiatedPair(t, WithCache(2))

	for i := range 10 {
		info := &SessionInfo{SessionID: &SessionID{ConnectionID: "c", Value: int64(i % 3)}}
		got := roundTrip(t, out, in, info)
		assert.Equal(t, info, got, "iteration %d", i)
	}
}

func TestWireFormatCacheSmall(t *testing.T) {
	encodings := map[string]bool{"tight": true, "loose": false}

	for name, tight := range encodings {
		t.Run(name, func(t *testing.T) {
			out, in := negotiatedPair(t, WithTightEncoding(tight), WithCache(2))

			for i := range 20 {
				producer := &ProducerID{ConnectionID: "ID:c", SessionID: 1, Value: int64(i % 3)}
				m := &Message{
					ProducerID:  producer,
					Destination: NewQueue("Q." + strconv.Itoa(i%4)),
					ReplyTo:     NewTopic("T." + strconv.Itoa(i%5)),
					MessageID:   &MessageID{ProducerID: producer, ProducerSequenceID: int64(i)},
				}
				got := roundTrip(t, out, in, m)
				assert.Equal(t, m, got, "message %d", i)
			}
		})
	}
}

func TestWireFormatCacheWrap(t *testing.T) {
	encodings := map[string]bool{"tight": true, "loose": false}

	for name, tight := range encodings {
		t.Run(name, func(t *testing.T) {
			out, in := negotiatedPair(t, WithTightEncoding(tight))
			producer := &ProducerID{ConnectionID: "ID:c", SessionID: 1, Value: 1}

			for i := range 3 * DefaultCacheSize {
				m := &Message{
					ProducerID:  producer,
					Destination: NewQueue("WRAP." + strconv.Itoa(i)),
					MessageID:   &MessageID{ProducerID: producer, ProducerSequenceID: int64(i)},
				}
				frame, err := out.Marshal(m)
				require.NoError(t, err, "message %d", i)
				got, err := in.UnmarshalBytes(frame)
				require.NoError(t, err, "message %d", i)
				require.Equal(t, m, got, "message %d", i)
			}
		})
	}
}

func TestWireFormatCacheFailedMarshal(t *testing.T) {
	encodings := map[string]bool{"tight": true, "loose": false}

	for name, tight := range encodings {
		t.Run(name, func(t *testing.T) {
			out, in := negotiatedPair(t, WithTightEncoding(tight))
			producer := &ProducerID{ConnectionID: "ID:c", SessionID: 1, Value: 1}
			dest := NewQueue("NEVER.SENT")

			bad := &Message{
				ProducerID:    producer,
				Destination:   dest,
				CorrelationID: strings.Repeat("x", 70000),
			}
			_, err := out.Marshal(bad)
			require.ErrorIs(t, err, ErrStringTooLong)

			good := &Message{
				ProducerID:  producer,
				Destination: dest,
				MessageID:   &MessageID{ProducerID: producer, ProducerSequenceID: 1},
			}
			got := roundTrip(t, out, in, good)
			assert.Equal(t, good, got)
		})
	}
}

func TestWireFormatVersionGates(t *testing.T) {
	newPair := func(t *testing.T, version int32) (*WireFormat, *WireFormat) {
		return negotiatedPair(t, WithVersion(version))
	}

	t.Run("newer fields are dropped", func(t *testing.T) {
		out, in := newPair(t, 1)
		info := &ConnectionInfo{
			ConnectionID:  NewConnectionID("c"),
			ClientID:      "c",
			ClientMaster:  true,
			FaultTolerant: true,
			ClientIP:      "10.0.0.1",
		}
		got := roundTrip(t, out, in, info).(*ConnectionInfo)
		assert.Equal(t, "c", got.ClientID)
		assert.False(t, got.ClientMaster)
		assert.False(t, got.FaultTolerant)
		assert.Empty(t, got.ClientIP)
	})

	t.Run("fields kept from their version", func(t *testing.T) {
		out, in := newPair(t, 6)
		info := &ConnectionInfo{ConnectionID: NewConnectionID("c"), ClientMaster: true, FaultTolerant: true, ClientIP: "10.0.0.1"}
		got := roundTrip(t, out, in, info).(*ConnectionInfo)
		assert.True(t, got.ClientMaster)
		assert.True(t, got.FaultTolerant)
		assert.Empty(t, got.ClientIP)
	})

	t.Run("type unknown at version", func(t *testing.T) {
		out, _ := newPair(t, 2)
		_, err := out.Marshal(&ProducerAck{Size: 1})
		assert.ErrorIs(t, err, ErrUnknownDataType)
	})

	t.Run("version is clamped", func(t *testing.T) {
		wf := NewWireFormat(WithVersion(42))
		assert.Equal(t, MaxSupportedVersion, wf.PreferredWireFormatInfo().Version)
	})
}

func TestWireFormatUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		opts  []WireFormatOption
		err   error
	}{
		{
			name:  "unknown type",
			frame: []byte{0, 0, 0, 1, 200},
			err:   ErrUnknownDataType,
		},
		{
			name:  "frame too large",
			frame: []byte{0, 0, 0x03, 0xE8},
			opts:  []WireFormatOption{WithMaxFrameSize(16)},
			err:   ErrFrameTooLarge,
		},
		{
			name:  "negative size",
			frame: []byte{0xFF, 0xFF, 0xFF, 0xFF},
			err:   ErrNegativeLength,
		},
		{
			name:  "truncated frame",
			frame: []byte{0, 0, 0, 10, 1, 2, 3},
			err:   io.ErrUnexpectedEOF,
		},
		{
			name:  "truncated fields",
			frame: []byte{0, 0, 0, 2, ResponseType, 0},
			err:   io.ErrUnexpectedEOF,
		},
		{
			name:  "empty input",
			frame: nil,
			err:   io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := NewWireFormat(tt.opts...)
			_, err := wf.UnmarshalBytes(tt.frame)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, wf.InReceive())
		})
	}
}

func TestWireFormatRenegotiate(t *testing.T) {
	remote := func() *WireFormatInfo {
		info := NewWireFormatInfo(5)
		info.SetCacheEnabled(true)
		info.SetCacheSize(100)
		info.SetTightEncodingEnabled(false)
		info.SetStackTraceEnabled(true)
		info.SetTCPNoDelayEnabled(false)
		info.SetMaxInactivityDuration(5000)
		info.SetMaxInactivityDurationInitalDelay(20000)
		return info
	}

	t.Run("min and and", func(t *testing.T) {
		wf := NewWireFormat()
		r := remote()
		require.NoError(t, wf.Renegotiate(r))

		assert.True(t, wf.Negotiated())
		assert.Same(t, r, wf.RemoteWireFormatInfo())
		assert.Equal(t, int32(5), wf.Version())
		assert.False(t, wf.TightEncodingEnabled())
		assert.True(t, wf.CacheEnabled())
		assert.True(t, wf.StackTraceEnabled())
		assert.False(t, wf.TCPNoDelayEnabled())
		assert.False(t, wf.SizePrefixDisabled())
		assert.Equal(t, 5*time.Second, wf.MaxInactivityDuration())
		assert.Equal(t, DefaultMaxInactivityDurationInitialDelay, wf.MaxInactivityDurationInitialDelay())
	})

	t.Run("zero cache size disables cache", func(t *testing.T) {
		wf := NewWireFormat()
		r := remote()
		r.SetCacheSize(0)
		require.NoError(t, wf.Renegotiate(r))
		assert.False(t, wf.CacheEnabled())
	})

	t.Run("local preference wins when disabled", func(t *testing.T) {
		wf := NewWireFormat(WithCache(0), WithStackTrace(false), WithMaxInactivityDuration(0))
		require.NoError(t, wf.Renegotiate(remote()))
		assert.False(t, wf.CacheEnabled())
		assert.False(t, wf.StackTraceEnabled())
		assert.Zero(t, wf.MaxInactivityDuration())
	})

	t.Run("invalid magic", func(t *testing.T) {
		wf := NewWireFormat()
		r := remote()
		copy(r.Magic[:], "Garbage!")
		err := wf.Renegotiate(r)
		assert.ErrorIs(t, err, ErrInvalidMagic)
		assert.False(t, wf.Negotiated())
	})

	t.Run("unsupported version", func(t *testing.T) {
		wf := NewWireFormat()
		r := remote()
		r.Version = 0
		assert.ErrorIs(t, wf.Renegotiate(r), ErrUnsupportedVersion)
	})

	t.Run("missing info", func(t *testing.T) {
		wf := NewWireFormat()
		assert.ErrorIs(t, wf.Renegotiate(nil), ErrNotNegotiable)
	})
}

func TestWireFormatInReceive(t *testing.T) {
	out, in := negotiatedPair(t)
	frame, err := out.Marshal(&ControlCommand{Command: "ping"})
	require.NoError(t, err)

	pr, pw := io.Pipe()
	done := make(chan DataStructure, 1)
	go func() {
		ds, err := in.Unmarshal(pr)
		assert.NoError(t, err)
		done <- ds
	}()

	_, err = pw.Write(frame[:4])
	require.NoError(t, err)
	assert.Eventually(t, in.InReceive, time.Second, time.Millisecond)

	_, err = pw.Write(frame[4:])
	require.NoError(t, err)

	select {
	case ds := <-done:
		assert.Equal(t, &ControlCommand{Command: "ping"}, ds)
	case <-time.After(time.Second):
		t.Fatal("unmarshal did not complete")
	}
	assert.False(t, in.InReceive())
}

func TestWireFormatMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	wf := NewWireFormat(WithFormatMetrics(m))

	frame, err := wf.Marshal(&KeepAliveInfo{})
	require.NoError(t, err)
	_, err = wf.UnmarshalBytes(frame)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), m.HistogramCount("openwire_frame_bytes", nil))
}

func TestWireFormatConcurrentMarshal(t *testing.T) {
	out, in := negotiatedPair(t, WithCache(0))

	const workers = 8
	frames := make(chan []byte, workers*10)
	done := make(chan struct{})
	for w := range workers {
		go func() {
			for i := range 10 {
				frame, err := out.Marshal(&Response{CorrelationID: int32(w*10 + i)})
				assert.NoError(t, err)
				frames <- frame
			}
			done <- struct{}{}
		}()
	}
	for range workers {
		<-done
	}
	close(frames)

	seen := make(map[int32]bool)
	for frame := range frames {
		ds, err := in.UnmarshalBytes(frame)
		require.NoError(t, err)
		seen[ds.(*Response).CorrelationID] = true
	}
	assert.Len(t, seen, workers*10)
}
