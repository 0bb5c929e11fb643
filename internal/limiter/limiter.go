package limiter

import (
	"sync"
)

// FlowLimiter serializes deposit flows per user: between the moment a user
// starts a deposit and the moment its request row exists, nothing else for
// that user may start one. This keeps a double-tapped /deposit from
// creating two pending rows with the same amount, which would make the
// amount-only matcher ambiguous.
type FlowLimiter struct {
	mu          sync.Mutex
	activeUsers map[int64]struct{}
}

// NewFlowLimiter creates a flow limiter.
func NewFlowLimiter() *FlowLimiter {
	return &FlowLimiter{
		activeUsers: make(map[int64]struct{}),
	}
}

// TryAcquire attempts to claim the user's flow slot.
// Returns false if the user already has a flow in progress.
func (l *FlowLimiter) TryAcquire(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.activeUsers[userID]; exists {
		return false
	}
	l.activeUsers[userID] = struct{}{}
	return true
}

// Release releases the user's flow slot.
func (l *FlowLimiter) Release(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.activeUsers, userID)
}

// ActiveCount returns the number of users with a flow in progress.
func (l *FlowLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.activeUsers)
}
