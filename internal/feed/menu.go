package feed

import "sync"

// Menu tracks the contextual action menu. At most one item has its menu
// open.
type Menu struct {
	mu   sync.Mutex
	open int64
	any  bool
}

// Toggle opens the menu of id, closing any other, or closes it if it was
// the open one. It reports whether the menu of id is now open.
func (m *Menu) Toggle(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.any && m.open == id {
		m.any = false
		return false
	}
	m.open, m.any = id, true
	return true
}

func (m *Menu) CloseAll() {
	m.mu.Lock()
	m.any = false
	m.mu.Unlock()
}

func (m *Menu) IsOpen(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.any && m.open == id
}

// Open returns the item whose menu is open.
func (m *Menu) Open() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.any
}
