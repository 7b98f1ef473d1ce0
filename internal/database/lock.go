package database

import "sync"

// Locker is the reader/writer lock taken around every store operation. Reads take the
// shared side; writes, schema creation, migration and reset take the exclusive side.
type Locker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

var _ Locker = (*sync.RWMutex)(nil)

// noopLocker is used by engines that coordinate concurrent writers themselves.
type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}
