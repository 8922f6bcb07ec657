package client

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vitalvas/openwire"
)

// tempDestinations is the set of temporary destinations known to exist on
// the broker: the ones this connection created and, with topic advisories
// enabled, the ones other connections announced.
type tempDestinations struct {
	m *xsync.MapOf[string, openwire.Destination]
}

func newTempDestinations() *tempDestinations {
	return &tempDestinations{m: xsync.NewMapOf[string, openwire.Destination]()}
}

func (t *tempDestinations) add(d openwire.Destination) {
	t.m.Store(d.QualifiedName(), d)
}

func (t *tempDestinations) remove(d openwire.Destination) {
	t.m.Delete(d.QualifiedName())
}

func (t *tempDestinations) contains(d openwire.Destination) bool {
	_, ok := t.m.Load(d.QualifiedName())
	return ok
}

// owned returns the destinations created by the given connection.
func (t *tempDestinations) owned(connectionID string) []openwire.Destination {
	var out []openwire.Destination
	t.m.Range(func(_ string, d openwire.Destination) bool {
		if tempOwner(d) == connectionID {
			out = append(out, d)
		}
		return true
	})
	return out
}

func (t *tempDestinations) size() int {
	return t.m.Size()
}

// tempOwner returns the connection id embedded in a temporary destination
// name, or "".
func tempOwner(d openwire.Destination) string {
	switch v := d.(type) {
	case *openwire.TempQueue:
		return v.ConnectionID()
	case *openwire.TempTopic:
		return v.ConnectionID()
	default:
		return ""
	}
}
