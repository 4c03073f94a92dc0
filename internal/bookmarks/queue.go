package bookmarks

import "sync"

// Queue runs tasks in the background, one at a time per key. Tasks with
// different keys run concurrently. Each task still reads the latest state
// itself; the queue only orders them.
type Queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

func NewQueue() *Queue {
	return &Queue{tails: make(map[string]chan struct{})}
}

// Go schedules task after every task already queued under key.
func (q *Queue) Go(key string, task func()) {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if prev != nil {
			<-prev
		}
		defer func() {
			close(done)
			q.mu.Lock()
			if q.tails[key] == done {
				delete(q.tails, key)
			}
			q.mu.Unlock()
		}()
		task()
	}()
}

// Busy reports the number of keys with queued or running tasks.
func (q *Queue) Busy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}

// Pending reports whether key has a queued or running task.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}

// Wait blocks until every scheduled task returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}
