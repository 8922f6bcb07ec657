package openwire

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Data structure type tags. Each tag is unique and stable across protocol versions.
const (
	NullType                        byte = 0
	WireFormatInfoType              byte = 1
	BrokerInfoType                  byte = 2
	ConnectionInfoType              byte = 3
	SessionInfoType                 byte = 4
	ConsumerInfoType                byte = 5
	ProducerInfoType                byte = 6
	TransactionInfoType             byte = 7
	DestinationInfoType             byte = 8
	RemoveSubscriptionInfoType      byte = 9
	KeepAliveInfoType               byte = 10
	ShutdownInfoType                byte = 11
	RemoveInfoType                  byte = 12
	ControlCommandType              byte = 14
	FlushCommandType                byte = 15
	ConnectionErrorType             byte = 16
	ConsumerControlType             byte = 17
	ConnectionControlType           byte = 18
	ProducerAckType                 byte = 19
	MessagePullType                 byte = 20
	MessageDispatchType             byte = 21
	MessageAckType                  byte = 22
	MessageType                     byte = 23
	BytesMessageType                byte = 24
	MapMessageType                  byte = 25
	ObjectMessageType               byte = 26
	StreamMessageType               byte = 27
	TextMessageType                 byte = 28
	BlobMessageType                 byte = 29
	ResponseType                    byte = 30
	ExceptionResponseType           byte = 31
	DataResponseType                byte = 32
	DataArrayResponseType           byte = 33
	IntegerResponseType             byte = 34
	DiscoveryEventType              byte = 40
	PartialCommandType              byte = 60
	LastPartialCommandType          byte = 61
	ReplayCommandType               byte = 65
	MessageDispatchNotificationType byte = 90
	QueueType                       byte = 100
	TopicType                       byte = 101
	TempQueueType                   byte = 102
	TempTopicType                   byte = 103
	MessageIDType                   byte = 110
	LocalTransactionIDType          byte = 111
	XATransactionIDType             byte = 112
	ConnectionIDType                byte = 120
	SessionIDType                   byte = 121
	ConsumerIDType                  byte = 122
	ProducerIDType                  byte = 123
	BrokerIDType                    byte = 124
)

// DataStructure is a value with an OpenWire type tag. The set of
// implementations is closed: every variant is registered in the dispatch
// table below together with the first protocol version that carries it.
type DataStructure interface {
	DataStructureType() byte
	marshalFields(c *fieldCodec)
}

// Command is a DataStructure that travels on its own as a frame.
type Command interface {
	DataStructure
	Base() *BaseCommand
}

// Responder is implemented by every response variant.
type Responder interface {
	Command
	ResponseBase() *Response
}

// MessageCommand is implemented by every message variant.
type MessageCommand interface {
	Command
	MessageBase() *Message
}

// BaseCommand holds the fields shared by all commands.
type BaseCommand struct {
	CommandID        int32
	ResponseRequired bool
}

// Base returns the shared command fields.
func (b *BaseCommand) Base() *BaseCommand { return b }

func (b *BaseCommand) marshalFields(c *fieldCodec) {
	c.int32(&b.CommandID)
	c.bool(&b.ResponseRequired)
}

// marshalAware variants carry an extra presence bit when nested in a
// tightly encoded frame.
type marshalAware interface {
	marshalAware()
}

type factory struct {
	minVersion int32
	create     func() DataStructure
}

var factories = [256]factory{
	WireFormatInfoType:              {1, func() DataStructure { return new(WireFormatInfo) }},
	BrokerInfoType:                  {1, func() DataStructure { return new(BrokerInfo) }},
	ConnectionInfoType:              {1, func() DataStructure { return new(ConnectionInfo) }},
	SessionInfoType:                 {1, func() DataStructure { return new(SessionInfo) }},
	ConsumerInfoType:                {1, func() DataStructure { return new(ConsumerInfo) }},
	ProducerInfoType:                {1, func() DataStructure { return new(ProducerInfo) }},
	TransactionInfoType:             {1, func() DataStructure { return new(TransactionInfo) }},
	DestinationInfoType:             {1, func() DataStructure { return new(DestinationInfo) }},
	RemoveSubscriptionInfoType:      {1, func() DataStructure { return new(RemoveSubscriptionInfo) }},
	KeepAliveInfoType:               {1, func() DataStructure { return new(KeepAliveInfo) }},
	ShutdownInfoType:                {1, func() DataStructure { return new(ShutdownInfo) }},
	RemoveInfoType:                  {1, func() DataStructure { return new(RemoveInfo) }},
	ControlCommandType:              {1, func() DataStructure { return new(ControlCommand) }},
	FlushCommandType:                {1, func() DataStructure { return new(FlushCommand) }},
	ConnectionErrorType:             {1, func() DataStructure { return new(ConnectionError) }},
	ConsumerControlType:             {1, func() DataStructure { return new(ConsumerControl) }},
	ConnectionControlType:           {1, func() DataStructure { return new(ConnectionControl) }},
	ProducerAckType:                 {3, func() DataStructure { return new(ProducerAck) }},
	MessagePullType:                 {1, func() DataStructure { return new(MessagePull) }},
	MessageDispatchType:             {1, func() DataStructure { return new(MessageDispatch) }},
	MessageAckType:                  {1, func() DataStructure { return new(MessageAck) }},
	MessageType:                     {1, func() DataStructure { return new(Message) }},
	BytesMessageType:                {1, func() DataStructure { return new(BytesMessage) }},
	MapMessageType:                  {1, func() DataStructure { return new(MapMessage) }},
	ObjectMessageType:               {1, func() DataStructure { return new(ObjectMessage) }},
	StreamMessageType:               {1, func() DataStructure { return new(StreamMessage) }},
	TextMessageType:                 {1, func() DataStructure { return new(TextMessage) }},
	BlobMessageType:                 {3, func() DataStructure { return new(BlobMessage) }},
	ResponseType:                    {1, func() DataStructure { return new(Response) }},
	ExceptionResponseType:           {1, func() DataStructure { return new(ExceptionResponse) }},
	DataResponseType:                {1, func() DataStructure { return new(DataResponse) }},
	DataArrayResponseType:           {1, func() DataStructure { return new(DataArrayResponse) }},
	IntegerResponseType:             {1, func() DataStructure { return new(IntegerResponse) }},
	DiscoveryEventType:              {1, func() DataStructure { return new(DiscoveryEvent) }},
	PartialCommandType:              {1, func() DataStructure { return new(PartialCommand) }},
	LastPartialCommandType:          {1, func() DataStructure { return new(LastPartialCommand) }},
	ReplayCommandType:               {1, func() DataStructure { return new(ReplayCommand) }},
	MessageDispatchNotificationType: {1, func() DataStructure { return new(MessageDispatchNotification) }},
	QueueType:                       {1, func() DataStructure { return new(Queue) }},
	TopicType:                       {1, func() DataStructure { return new(Topic) }},
	TempQueueType:                   {1, func() DataStructure { return new(TempQueue) }},
	TempTopicType:                   {1, func() DataStructure { return new(TempTopic) }},
	MessageIDType:                   {1, func() DataStructure { return new(MessageID) }},
	LocalTransactionIDType:          {1, func() DataStructure { return new(LocalTransactionID) }},
	XATransactionIDType:             {1, func() DataStructure { return new(XATransactionID) }},
	ConnectionIDType:                {1, func() DataStructure { return new(ConnectionID) }},
	SessionIDType:                   {1, func() DataStructure { return new(SessionID) }},
	ConsumerIDType:                  {1, func() DataStructure { return new(ConsumerID) }},
	ProducerIDType:                  {1, func() DataStructure { return new(ProducerID) }},
	BrokerIDType:                    {1, func() DataStructure { return new(BrokerID) }},
}

// Supported reports whether the type tag is known at the given protocol version.
func Supported(t byte, version int32) bool {
	f := factories[t]
	return f.create != nil && version >= f.minVersion
}

// New creates an empty value for the type tag at the given protocol version.
func New(t byte, version int32) (DataStructure, error) {
	if !Supported(t, version) {
		return nil, NewProtocolError(fmt.Errorf("%w: %d (version %d)", ErrUnknownDataType, t, version))
	}
	return factories[t].create(), nil
}

// TypeName returns the Go type name registered for the tag.
func TypeName(t byte) string {
	f := factories[t]
	if f.create == nil {
		return fmt.Sprintf("Unknown(%d)", t)
	}
	return reflect.TypeOf(f.create()).Elem().Name()
}

// IsResponse reports whether cmd is a response variant.
func IsResponse(cmd Command) bool {
	_, ok := cmd.(Responder)
	return ok
}

// IsMessage reports whether cmd is a message variant.
func IsMessage(cmd Command) bool {
	_, ok := cmd.(MessageCommand)
	return ok
}

func isNil(ds DataStructure) bool {
	if ds == nil {
		return true
	}
	v := reflect.ValueOf(ds)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Dump renders a data structure with its exported fields, for tracing.
func Dump(ds DataStructure) string {
	if isNil(ds) {
		return "nil"
	}
	var sb strings.Builder
	dumpValue(&sb, reflect.ValueOf(ds))
	return sb.String()
}

var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

func dumpValue(sb *strings.Builder, v reflect.Value) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			sb.WriteString("nil")
			return
		}
		dumpValue(sb, v.Elem())
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			sb.WriteString("nil")
			return
		}
		if v.Type().Implements(stringerType) {
			sb.WriteString(v.Interface().(fmt.Stringer).String())
			return
		}
		dumpValue(sb, v.Elem())
		return
	}

	switch v.Kind() {
	case reflect.Struct:
		sb.WriteString(v.Type().Name())
		sb.WriteByte('{')
		first := true
		dumpFields(sb, v, &first)
		sb.WriteByte('}')
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			fmt.Fprintf(sb, "[%d bytes]", v.Len())
			return
		}
		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			dumpValue(sb, v.Index(i))
		}
		sb.WriteByte(']')
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%v=%v", k, v.MapIndex(k))
		}
		sb.WriteByte('}')
	case reflect.String:
		fmt.Fprintf(sb, "%q", v.String())
	default:
		fmt.Fprintf(sb, "%v", v)
	}
}

func dumpFields(sb *strings.Builder, v reflect.Value, first *bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			dumpFields(sb, v.Field(i), first)
			continue
		}
		if !*first {
			sb.WriteString(", ")
		}
		*first = false
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		dumpValue(sb, v.Field(i))
	}
}
