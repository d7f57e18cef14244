package audit

import (
	"context"
	"sync"
)

// Recorder は受け取った操作ログをメモリに保持する Sink です
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Record(_ context.Context, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries は記録した操作ログのコピーを返します
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
