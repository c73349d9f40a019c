package pipeline

import "sync"

// chatLocks hands out one mutex per chat ID, created lazily. Entries live for
// the life of the process; the map is bounded by the number of subscribers.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (c *chatLocks) get(chatID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = make(map[int64]*sync.Mutex)
	}
	l := c.locks[chatID]
	if l == nil {
		l = &sync.Mutex{}
		c.locks[chatID] = l
	}
	return l
}
