package bridge

import (
	"sync"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// boundedBuffer keeps the first headLimit and last tailLimit bytes of a
// stream so artifacts stay small no matter how chatty the agent gets.
type boundedBuffer struct {
	headLimit int
	tailLimit int

	head      []byte
	tail      []byte // ring of the most recent tailLimit bytes
	tailStart int
	tailFull  bool
	total     int64
	mu        sync.Mutex
}

func newBoundedBuffer(headLimit, tailLimit int) *boundedBuffer {
	return &boundedBuffer{headLimit: headLimit, tailLimit: tailLimit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))

	if len(b.head) < b.headLimit {
		take := b.headLimit - len(b.head)
		if take > len(p) {
			take = len(p)
		}
		b.head = append(b.head, p[:take]...)
	}

	if b.tailLimit > 0 {
		if b.tail == nil {
			b.tail = make([]byte, b.tailLimit)
		}
		for _, c := range p {
			b.tail[b.tailStart] = c
			b.tailStart++
			if b.tailStart == b.tailLimit {
				b.tailStart = 0
				b.tailFull = true
			}
		}
	}

	return len(p), nil
}

// Excerpt renders the captured prefix/suffix. When the stream fit inside
// the head the tail is omitted.
func (b *boundedBuffer) Excerpt() domain.Excerpt {
	b.mu.Lock()
	defer b.mu.Unlock()

	truncated := b.total > int64(len(b.head))
	ex := domain.Excerpt{Head: string(b.head), Truncated: truncated}
	if !truncated {
		return ex
	}

	if b.tailFull {
		tail := make([]byte, 0, b.tailLimit)
		tail = append(tail, b.tail[b.tailStart:]...)
		tail = append(tail, b.tail[:b.tailStart]...)
		ex.Tail = string(tail)
	} else {
		ex.Tail = string(b.tail[:b.tailStart])
	}
	return ex
}

// String returns head (+ tail when truncated) for classification scans
func (b *boundedBuffer) String() string {
	ex := b.Excerpt()
	if ex.Tail == "" {
		return ex.Head
	}
	return ex.Head + "\n...\n" + ex.Tail
}
