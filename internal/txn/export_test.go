package txn

// Poison marks the manager poisoned from tests, standing in for a commit
// that failed after its pages were applied.
func (m *Manager) Poison(cause error) { m.poison("test", cause) }
