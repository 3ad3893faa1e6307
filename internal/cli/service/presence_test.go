package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresence_KeepsLatest(t *testing.T) {
	p := NewPresence()
	_, ok := p.LastSeen("b1")
	assert.False(t, ok, "нет сигналов - нет и отметки, а не «офлайн»")

	t1 := time.UnixMilli(1_700_000_000_000)
	p.Observe("b1", t1)
	p.Observe("b1", t1.Add(-time.Minute)) // старый сигнал пришёл позже
	p.Observe("", t1.Add(time.Hour))
	p.Observe("b1", time.Time{})

	got, ok := p.LastSeen("b1")
	assert.True(t, ok)
	assert.Equal(t, t1, got)

	p.Observe("b1", t1.Add(time.Second))
	got, _ = p.LastSeen("b1")
	assert.Equal(t, t1.Add(time.Second), got)
}
