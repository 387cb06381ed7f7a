package task

import "sync"

// CancelRequests records out-of-band cancellation requests keyed by local
// echo id. It implements CancelTracker.
type CancelRequests struct {
	mu       sync.RWMutex
	requests map[string]string // event id -> room id
}

// NewCancelRequests returns an empty tracker.
func NewCancelRequests() *CancelRequests {
	return &CancelRequests{requests: make(map[string]string)}
}

// Request records that the event should not be sent.
func (c *CancelRequests) Request(eventID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[eventID] = roomID
}

// Clear forgets a request, typically before the event is resubmitted.
func (c *CancelRequests) Clear(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.requests, eventID)
}

// IsCancelRequested implements CancelTracker.
func (c *CancelRequests) IsCancelRequested(eventID, roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.requests[eventID]
	return ok && room == roomID
}
