package sessions

// LiveLocks exposes the number of live lock entries to tests.
func (m *Manager) LiveLocks() int { return m.locks.size() }
