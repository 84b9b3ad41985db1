package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/gregtusar/arbsync/pkg/models"
)

type EventType string

const (
	EventHello           EventType = "hello"
	EventDataUpdate      EventType = "data_update"
	EventConnectionState EventType = "connection_state"
	EventError           EventType = "error"
	EventHighestProfit   EventType = "highest_profit"
)

// Event is what subscribers receive. Only the fields relevant to Type are set.
type Event struct {
	Type          EventType
	Time          time.Time
	Hello         *models.HelloMessage
	Snapshot      *models.ArbitrageSnapshot
	Connection    models.ConnectionState
	Reason        string
	HighestProfit *models.HighestProfitRecord
	Err           error
}

type Listener func(Event)

type subscribers struct {
	mu     sync.Mutex
	next   int
	fns    map[int]Listener
	closed bool
}

func (s *subscribers) add(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	if s.fns == nil {
		s.fns = make(map[int]Listener)
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// publish calls listeners in subscription order, outside the lock so a
// listener may unsubscribe itself.
func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	if s.closed || len(s.fns) == 0 {
		s.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		// a listener may have called Stop
		if s.isClosed() {
			return
		}
		fn(ev)
	}
}

func (s *subscribers) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscribers) close() {
	s.mu.Lock()
	s.closed = true
	s.fns = nil
	s.mu.Unlock()
}
