package attach

import (
	"sync"

	"github.com/google/uuid"
)

// Lease is one unit of interest in the attachment or the stream. Release
// may be called any number of times; only the first call counts.
type Lease struct {
	id      string
	kind    string
	once    sync.Once
	release func() error
	err     error
}

func (o *Orchestrator) newLease(kind string, counter *InterestCounter) *Lease {
	l := &Lease{
		id:   uuid.NewString(),
		kind: kind,
	}
	l.release = func() error {
		return o.releaseInterest(kind, counter)
	}
	o.logger.Debug("lease acquired", "kind", kind, "lease", l.id)
	return l
}

// ID returns the lease identifier.
func (l *Lease) ID() string {
	return l.id
}

// Kind returns "attachment" or "stream".
func (l *Lease) Kind() string {
	return l.kind
}

// Release gives the interest back.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.release()
	})
	return l.err
}
