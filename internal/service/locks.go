package service

import "sync"

// jobLocks serializes mutations per job id within one process and orders the work that has to
// run after a mutation, such as publishing its lifecycle event.
//
// Deferred work is queued while the job's mutex is held and drained by a single goroutine once
// the mutex is released, so it runs in mutation order and may itself mutate the same job.
// Entries are reference counted and removed once no goroutine holds, waits on or drains them.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu       sync.Mutex
	refs     int
	outbox   []func()
	draining bool
}

// jobGuard is a held job lock.
type jobGuard struct {
	locks   *jobLocks
	id      string
	entry   *jobLock
	pending []func()
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// Lock acquires the mutex for id.
func (l *jobLocks) Lock(id string) *jobGuard {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &jobLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return &jobGuard{locks: l, id: id, entry: entry}
}

// AfterUnlock queues fn to run once the lock is released.
func (g *jobGuard) AfterUnlock(fn func()) {
	g.pending = append(g.pending, fn)
}

// Unlock releases the mutex and runs queued work. When another goroutine is already draining
// this job's outbox the work is handed over to it and Unlock returns immediately.
func (g *jobGuard) Unlock() {
	l, entry := g.locks, g.entry

	l.mu.Lock()
	entry.outbox = append(entry.outbox, g.pending...)
	g.pending = nil
	drain := !entry.draining && len(entry.outbox) > 0
	if drain {
		entry.draining = true
	}
	l.mu.Unlock()

	entry.mu.Unlock()

	if drain {
		g.drain()
	}
	l.release(g.id, entry)
}

func (g *jobGuard) drain() {
	l, entry := g.locks, g.entry
	for {
		l.mu.Lock()
		if len(entry.outbox) == 0 {
			entry.draining = false
			l.mu.Unlock()
			return
		}
		fn := entry.outbox[0]
		entry.outbox[0] = nil
		entry.outbox = entry.outbox[1:]
		l.mu.Unlock()

		runDeferred(fn)
	}
}

func runDeferred(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func (l *jobLocks) release(id string, entry *jobLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
