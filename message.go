package openwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
)

// ErrNoBody is returned when a body accessor is used on a message without content.
var ErrNoBody = errors.New("openwire: message has no body")

// Message is the common header and payload of every message variant.
// Content and MarshalledProperties travel as opaque byte slices; the body
// accessors on the concrete variants encode and decode them.
type Message struct {
	BaseCommand
	ProducerID            *ProducerID
	Destination           Destination
	TransactionID         TransactionID
	OriginalDestination   Destination
	MessageID             *MessageID
	OriginalTransactionID TransactionID
	GroupID               string
	GroupSequence         int32
	CorrelationID         string
	Persistent            bool
	Expiration            int64
	Priority              byte
	ReplyTo               Destination
	Timestamp             int64
	Type                  string
	Content               []byte
	MarshalledProperties  []byte
	DataStructure         DataStructure
	TargetConsumerID      *ConsumerID
	Compressed            bool
	RedeliveryCounter     int32
	BrokerPath            []*BrokerID
	Arrival               int64
	UserID                string
	RecievedByDFBridge    bool
	Droppable             bool
	Cluster               []*BrokerID
	BrokerInTime          int64
	BrokerOutTime         int64
}

func (*Message) DataStructureType() byte { return MessageType }

// MessageBase returns the shared message fields.
func (m *Message) MessageBase() *Message { return m }

func (*Message) marshalAware() {}

func (m *Message) marshalFields(c *fieldCodec) {
	m.BaseCommand.marshalFields(c)
	cached(c, &m.ProducerID)
	cached(c, &m.Destination)
	cached(c, &m.TransactionID)
	cached(c, &m.OriginalDestination)
	nested(c, &m.MessageID)
	cached(c, &m.OriginalTransactionID)
	c.string(&m.GroupID)
	c.int32(&m.GroupSequence)
	c.string(&m.CorrelationID)
	c.bool(&m.Persistent)
	c.int64(&m.Expiration)
	c.byteField(&m.Priority)
	cached(c, &m.ReplyTo)
	c.int64(&m.Timestamp)
	c.string(&m.Type)
	c.bytes(&m.Content)
	c.bytes(&m.MarshalledProperties)
	nested(c, &m.DataStructure)
	cached(c, &m.TargetConsumerID)
	c.bool(&m.Compressed)
	c.int32(&m.RedeliveryCounter)
	nestedArray(c, &m.BrokerPath)
	c.int64(&m.Arrival)
	c.string(&m.UserID)
	c.bool(&m.RecievedByDFBridge)
	if c.since(2) {
		c.bool(&m.Droppable)
	}
	if c.since(3) {
		nestedArray(c, &m.Cluster)
		c.int64(&m.BrokerInTime)
		c.int64(&m.BrokerOutTime)
	}
}

// IsExpired reports whether the message expiration has passed at now.
func (m *Message) IsExpired(now time.Time) bool {
	return m.Expiration > 0 && now.UnixMilli() > m.Expiration
}

// Properties decodes the message properties.
func (m *Message) Properties() (PrimitiveMap, error) {
	props, err := UnmarshalPrimitiveMap(m.MarshalledProperties)
	if err != nil {
		return nil, fmt.Errorf("message properties: %w", err)
	}
	if props == nil {
		props = PrimitiveMap{}
	}
	return props, nil
}

// SetProperties replaces the message properties.
func (m *Message) SetProperties(props PrimitiveMap) error {
	if len(props) == 0 {
		m.MarshalledProperties = nil
		return nil
	}
	data, err := MarshalPrimitiveMap(props)
	if err != nil {
		return fmt.Errorf("message properties: %w", err)
	}
	m.MarshalledProperties = data
	return nil
}

// setBody stores body as content, deflating it when compress is set.
func (m *Message) setBody(body []byte, compress bool) error {
	m.Compressed = false
	if !compress {
		m.Content = body
		return nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	m.Content = buf.Bytes()
	m.Compressed = true
	return nil
}

// body returns the uncompressed content.
func (m *Message) body() ([]byte, error) {
	if !m.Compressed || m.Content == nil {
		return m.Content, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(m.Content))
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	return data, nil
}

// BytesMessage carries an opaque byte body.
type BytesMessage struct {
	Message
}

func (*BytesMessage) DataStructureType() byte { return BytesMessageType }

// SetBody stores data as the body.
func (m *BytesMessage) SetBody(data []byte, compress bool) error {
	return m.setBody(data, compress)
}

// Body returns the uncompressed body.
func (m *BytesMessage) Body() ([]byte, error) { return m.body() }

// TextMessage carries a string body.
type TextMessage struct {
	Message
}

func (*TextMessage) DataStructureType() byte { return TextMessageType }

// SetText encodes s as a 4-byte length followed by modified UTF-8.
func (m *TextMessage) SetText(s string, compress bool) error {
	w := &dataWriter{}
	w.writeInt(int32(modifiedUTF8Len(s)))
	w.buf = appendModifiedUTF8(w.buf, s)
	return m.setBody(w.Bytes(), compress)
}

// Text decodes the body. A message without content has an empty text.
func (m *TextMessage) Text() (string, error) {
	data, err := m.body()
	if err != nil || data == nil {
		return "", err
	}
	r := &dataReader{data: data}
	n, err := r.readInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(b)
}

// MapMessage carries a primitive map body.
type MapMessage struct {
	Message
}

func (*MapMessage) DataStructureType() byte { return MapMessageType }

// SetMap encodes body as the message content.
func (m *MapMessage) SetMap(body PrimitiveMap, compress bool) error {
	data, err := MarshalPrimitiveMap(body)
	if err != nil {
		return err
	}
	return m.setBody(data, compress)
}

// Map decodes the message content.
func (m *MapMessage) Map() (PrimitiveMap, error) {
	data, err := m.body()
	if err != nil {
		return nil, err
	}
	return UnmarshalPrimitiveMap(data)
}

// StreamMessage carries a sequence of typed primitive values.
type StreamMessage struct {
	Message
}

func (*StreamMessage) DataStructureType() byte { return StreamMessageType }

// SetValues encodes values back to back.
func (m *StreamMessage) SetValues(values []any, compress bool) error {
	w := &dataWriter{}
	for _, v := range values {
		if err := writePrimitive(w, v); err != nil {
			return err
		}
	}
	return m.setBody(w.Bytes(), compress)
}

// Values decodes every value in the body.
func (m *StreamMessage) Values() ([]any, error) {
	data, err := m.body()
	if err != nil {
		return nil, err
	}
	r := &dataReader{data: data}
	var out []any
	for r.remaining() > 0 {
		v, err := readPrimitive(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ObjectMessage carries a serialized object the client treats as opaque.
type ObjectMessage struct {
	Message
}

func (*ObjectMessage) DataStructureType() byte { return ObjectMessageType }

// Object returns the uncompressed serialized object.
func (m *ObjectMessage) Object() ([]byte, error) {
	data, err := m.body()
	if err == nil && data == nil {
		return nil, ErrNoBody
	}
	return data, err
}

// SetObject stores a serialized object.
func (m *ObjectMessage) SetObject(data []byte, compress bool) error {
	return m.setBody(data, compress)
}

// BlobMessage references a body stored out of band.
type BlobMessage struct {
	Message
	RemoteBlobURL   string
	MimeType        string
	DeletedByBroker bool
}

func (*BlobMessage) DataStructureType() byte { return BlobMessageType }

func (m *BlobMessage) marshalFields(c *fieldCodec) {
	m.Message.marshalFields(c)
	c.string(&m.RemoteBlobURL)
	c.string(&m.MimeType)
	c.bool(&m.DeletedByBroker)
}
