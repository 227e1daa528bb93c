package queue

import "sync"

// Tracker holds the file currently being recognized and its progress in percent.
type Tracker struct {
	mu      sync.RWMutex
	name    string
	percent int
}

func (t *Tracker) Start(name string) {
	t.mu.Lock()
	t.name, t.percent = name, 0
	t.mu.Unlock()
}

// Update records page progress as page*100/total.
func (t *Tracker) Update(page, total int) {
	if total <= 0 {
		return
	}
	p := page * 100 / total
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	t.percent = p
	t.mu.Unlock()
}

func (t *Tracker) Finish() {
	t.mu.Lock()
	t.name, t.percent = "", 0
	t.mu.Unlock()
}

func (t *Tracker) Current() (name string, percent int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name, t.percent
}
