package service

import (
	"sync"
	"time"
)

type typingKey struct {
	from string
	to   string
}

// typingTimers 在伺服器端為輸入中狀態計時，逾時自動送出 stop_typing
type typingTimers struct {
	ttl    time.Duration
	expire func(from, to string)

	mu     sync.Mutex
	timers map[typingKey]*time.Timer
}

func newTypingTimers(ttl time.Duration, expire func(from, to string)) *typingTimers {
	return &typingTimers{ttl: ttl, expire: expire, timers: make(map[typingKey]*time.Timer)}
}

func (t *typingTimers) enabled() bool {
	return t != nil && t.ttl > 0
}

// arm 開始或重新計時
func (t *typingTimers) arm(from, to string) {
	if !t.enabled() {
		return
	}
	key := typingKey{from: from, to: to}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		// 已被取消或重新計時的 timer 不觸發
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()

		t.expire(from, to)
	})
	t.timers[key] = timer
}

// cancel 停止計時，回傳是否有進行中的輸入狀態
func (t *typingTimers) cancel(from, to string) bool {
	if !t.enabled() {
		return false
	}
	key := typingKey{from: from, to: to}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// cancelFrom 停止 from 的所有計時，回傳仍在等待 stop_typing 的對象
func (t *typingTimers) cancelFrom(from string) []string {
	if !t.enabled() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var peers []string
	for key, timer := range t.timers {
		if key.from != from {
			continue
		}
		timer.Stop()
		delete(t.timers, key)
		peers = append(peers, key.to)
	}
	return peers
}

func (t *typingTimers) pending() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
