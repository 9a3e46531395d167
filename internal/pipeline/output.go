package pipeline

import (
	"fmt"
	"sync"
)

// MaxCapturedOutput is how much of each stage stream ends up in the report
const MaxCapturedOutput = 64 << 10

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	dropped int64
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.limit {
		b.dropped += int64(len(b.buf) + n - b.limit)
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}

	if over := len(b.buf) + n - b.limit; over > 0 {
		b.dropped += int64(over)
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dropped == 0 {
		return string(b.buf)
	}
	return fmt.Sprintf("[%d bytes truncated]\n%s", b.dropped, b.buf)
}
