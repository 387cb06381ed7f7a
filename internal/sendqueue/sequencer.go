package sendqueue

import (
	"sync"
)

// sequencer runs the blocks of one room in admission order, one at a time.
// A drain goroutine exists only while the room has queued work.
type sequencer struct {
	roomID  string
	mu      sync.Mutex
	queue   []func()
	running bool
	wg      *sync.WaitGroup
}

// submit admits block behind everything already queued for the room.
func (s *sequencer) submit(block func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, block)
	if !s.running {
		s.running = true
		s.wg.Add(1)
		go s.drain()
	}
}

func (s *sequencer) drain() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		block := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		block()
	}
}

// pending returns the number of blocks admitted but not yet started.
func (s *sequencer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// sequencers maps rooms to their sequencer. Entries are never evicted.
type sequencers struct {
	mu     sync.Mutex
	byRoom map[string]*sequencer
	wg     sync.WaitGroup
}

func newSequencers() *sequencers {
	return &sequencers{byRoom: make(map[string]*sequencer)}
}

// get returns the sequencer for roomID, creating it on first use.
func (s *sequencers) get(roomID string) *sequencer {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.byRoom[roomID]
	if !ok {
		seq = &sequencer{roomID: roomID, wg: &s.wg}
		s.byRoom[roomID] = seq
	}
	return seq
}

// runExclusive queues block on the room's sequencer.
func (s *sequencers) runExclusive(roomID string, block func()) {
	s.get(roomID).submit(block)
}

// rooms returns how many rooms have a sequencer.
func (s *sequencers) rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byRoom)
}

// wait blocks until every drain goroutine has exited.
func (s *sequencers) wait() {
	s.wg.Wait()
}
