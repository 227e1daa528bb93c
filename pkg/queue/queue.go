package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO of uploaded file names waiting for recognition.
type Queue struct {
	mu      sync.Mutex
	names   []string
	waiting chan struct{}
}

func New() *Queue {
	return &Queue{waiting: make(chan struct{}, 1)}
}

func (q *Queue) Push(name string) {
	q.mu.Lock()
	q.names = append(q.names, name)
	q.mu.Unlock()

	select {
	case q.waiting <- struct{}{}:
	default:
	}
}

// Pop blocks until a name is pending or ctx is done.
func (q *Queue) Pop(ctx context.Context) (name string, err error) {
	for {
		q.mu.Lock()
		if len(q.names) > 0 {
			name = q.names[0]
			q.names[0] = ""
			q.names = q.names[1:]
			more := len(q.names) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.waiting <- struct{}{}:
				default:
				}
			}
			return
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.waiting:
		}
	}
}

func (q *Queue) List() (names []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names = make([]string, len(q.names))
	copy(names, q.names)
	return
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.names)
}
