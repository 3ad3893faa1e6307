package service

import (
	"sync"
	"time"
)

// Presence - последние сигналы «онлайн» от собеседника.
// Отсутствие сигнала не означает «офлайн».
type Presence struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewPresence() *Presence {
	return &Presence{seen: make(map[string]time.Time)}
}

// Observe запоминает сигнал; более старые сигналы не откатывают отметку.
func (p *Presence) Observe(uid string, at time.Time) {
	if uid == "" || at.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if at.After(p.seen[uid]) {
		p.seen[uid] = at
	}
}

// LastSeen - время последнего сигнала, false если сигналов не было.
func (p *Presence) LastSeen(uid string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.seen[uid]
	return t, ok
}
