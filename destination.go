package openwire

import (
	"fmt"
	"net/url"
	"strings"
)

// Destination name prefixes and markers.
const (
	QueueQualifiedPrefix     = "queue://"
	TopicQualifiedPrefix     = "topic://"
	TempQueueQualifiedPrefix = "temp-queue://"
	TempTopicQualifiedPrefix = "temp-topic://"

	TempPrefix                = "{TD{"
	TempPostfix               = "}TD}"
	TempDestinationNamePrefix = "ID:"
	CompositeSeparator        = ","

	AdvisoryTopicPrefix = "ActiveMQ.Advisory."
)

// DestinationKind distinguishes the four destination variants.
type DestinationKind int

const (
	KindQueue DestinationKind = iota
	KindTopic
	KindTempQueue
	KindTempTopic
)

func (k DestinationKind) String() string {
	switch k {
	case KindQueue:
		return "Queue"
	case KindTopic:
		return "Topic"
	case KindTempQueue:
		return "TempQueue"
	case KindTempTopic:
		return "TempTopic"
	default:
		return "Unknown"
	}
}

// Destination is a queue or topic, optionally temporary.
type Destination interface {
	DataStructure
	PhysicalName() string
	Kind() DestinationKind
	QualifiedName() string
	Options() map[string]string
	String() string
}

// BaseDestination holds the physical name shared by all destinations.
// Options given after a '?' in the name are split off on construction
// and never marshaled.
type BaseDestination struct {
	Name    string
	options map[string]string
}

func newBaseDestination(name string) BaseDestination {
	d := BaseDestination{Name: name}
	if i := strings.IndexByte(name, '?'); i >= 0 {
		d.Name = name[:i]
		d.options = parseOptions(name[i+1:])
	}
	return d
}

func parseOptions(query string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		opts[key] = value
	}
	return opts
}

func (d *BaseDestination) marshalFields(c *fieldCodec) {
	c.string(&d.Name)
}

// PhysicalName returns the destination name without options.
func (d *BaseDestination) PhysicalName() string { return d.Name }

// Options returns the options parsed from the name, if any.
func (d *BaseDestination) Options() map[string]string { return d.options }

// IsAdvisory reports whether the destination is a broker advisory topic.
func (d *BaseDestination) IsAdvisory() bool {
	return strings.HasPrefix(d.Name, AdvisoryTopicPrefix)
}

// IsComposite reports whether the name lists several destinations.
func (d *BaseDestination) IsComposite() bool {
	return strings.Contains(d.Name, CompositeSeparator)
}

// Queue is a point-to-point destination.
type Queue struct{ BaseDestination }

// NewQueue creates a queue; options may follow a '?' in name.
func NewQueue(name string) *Queue { return &Queue{newBaseDestination(name)} }

func (*Queue) DataStructureType() byte { return QueueType }
func (*Queue) Kind() DestinationKind   { return KindQueue }
func (q *Queue) QualifiedName() string { return QueueQualifiedPrefix + q.Name }
func (q *Queue) String() string        { return q.QualifiedName() }

// Topic is a publish-subscribe destination.
type Topic struct{ BaseDestination }

// NewTopic creates a topic; options may follow a '?' in name.
func NewTopic(name string) *Topic { return &Topic{newBaseDestination(name)} }

func (*Topic) DataStructureType() byte { return TopicType }
func (*Topic) Kind() DestinationKind   { return KindTopic }
func (t *Topic) QualifiedName() string { return TopicQualifiedPrefix + t.Name }
func (t *Topic) String() string        { return t.QualifiedName() }

// TempQueue is a queue that lives as long as the connection that created it.
type TempQueue struct{ BaseDestination }

// NewTempQueue creates a temporary queue.
func NewTempQueue(name string) *TempQueue { return &TempQueue{newBaseDestination(name)} }

func (*TempQueue) DataStructureType() byte { return TempQueueType }
func (*TempQueue) Kind() DestinationKind   { return KindTempQueue }
func (q *TempQueue) QualifiedName() string { return TempQueueQualifiedPrefix + q.Name }
func (q *TempQueue) String() string        { return q.QualifiedName() }

// ConnectionID returns the id of the connection that created the queue.
func (q *TempQueue) ConnectionID() string { return tempConnectionID(q.Name) }

// TempTopic is a topic that lives as long as the connection that created it.
type TempTopic struct{ BaseDestination }

// NewTempTopic creates a temporary topic.
func NewTempTopic(name string) *TempTopic { return &TempTopic{newBaseDestination(name)} }

func (*TempTopic) DataStructureType() byte { return TempTopicType }
func (*TempTopic) Kind() DestinationKind   { return KindTempTopic }
func (t *TempTopic) QualifiedName() string { return TempTopicQualifiedPrefix + t.Name }
func (t *TempTopic) String() string        { return t.QualifiedName() }

// ConnectionID returns the id of the connection that created the topic.
func (t *TempTopic) ConnectionID() string { return tempConnectionID(t.Name) }

func tempConnectionID(name string) string {
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		return ""
	}
	return name[:i]
}

// IsTemporary reports whether d is a temporary queue or topic.
func IsTemporary(d Destination) bool {
	k := d.Kind()
	return k == KindTempQueue || k == KindTempTopic
}

// IsTopic reports whether d is a topic or temporary topic.
func IsTopic(d Destination) bool {
	k := d.Kind()
	return k == KindTopic || k == KindTempTopic
}

// TempDestinationClientID extracts the client id embedded between the {TD{ and }TD}
// markers of a temporary destination name.
func TempDestinationClientID(d Destination) string {
	if d == nil || !IsTemporary(d) {
		return ""
	}
	name := d.PhysicalName()
	start := strings.Index(name, TempPrefix)
	if start < 0 {
		return ""
	}
	start += len(TempPrefix)
	stop := strings.LastIndex(name, TempPostfix)
	if stop <= start {
		return ""
	}
	return name[start:stop]
}

// CreateDestination builds a destination from a possibly qualified name.
// A qualified prefix overrides kind.
func CreateDestination(kind DestinationKind, name string) (Destination, error) {
	switch {
	case strings.HasPrefix(name, QueueQualifiedPrefix):
		return NewQueue(strings.TrimPrefix(name, QueueQualifiedPrefix)), nil
	case strings.HasPrefix(name, TopicQualifiedPrefix):
		return NewTopic(strings.TrimPrefix(name, TopicQualifiedPrefix)), nil
	case strings.HasPrefix(name, TempQueueQualifiedPrefix):
		return NewTempQueue(strings.TrimPrefix(name, TempQueueQualifiedPrefix)), nil
	case strings.HasPrefix(name, TempTopicQualifiedPrefix):
		return NewTempTopic(strings.TrimPrefix(name, TempTopicQualifiedPrefix)), nil
	}

	switch kind {
	case KindQueue:
		return NewQueue(name), nil
	case KindTopic:
		return NewTopic(name), nil
	case KindTempQueue:
		return NewTempQueue(name), nil
	case KindTempTopic:
		return NewTempTopic(name), nil
	default:
		return nil, fmt.Errorf("openwire: invalid destination kind %d", kind)
	}
}

// CompositeDestinations splits a composite destination into its
// distinct components. Unqualified components keep the kind of d.
func CompositeDestinations(d Destination) []Destination {
	name := d.PhysicalName()
	if !strings.Contains(name, CompositeSeparator) {
		return nil
	}
	seen := make(map[string]struct{})
	var out []Destination
	for _, part := range strings.Split(name, CompositeSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		dest, err := CreateDestination(d.Kind(), part)
		if err != nil {
			continue
		}
		out = append(out, dest)
	}
	return out
}

// CompareDestinations orders destinations by kind then physical name.
func CompareDestinations(a, b Destination) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	return strings.Compare(a.PhysicalName(), b.PhysicalName())
}

// SameDestination reports whether a and b name the same destination.
func SameDestination(a, b Destination) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return CompareDestinations(a, b) == 0
}
