package service

import "sync"

// sequencer 依 key 序列化處理，同一位寄件人多個裝置的訊息依提交順序送出
type sequencer struct {
	mu    sync.Mutex
	locks map[string]*seqLock
}

type seqLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{locks: make(map[string]*seqLock)}
}

// lock 取得 key 的鎖，回傳的函式負責釋放；沒有人等待時移除該 key
func (s *sequencer) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &seqLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
