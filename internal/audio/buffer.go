package audio

import (
	"sync"
)

// PendingBuffer is a thread-safe bounded byte buffer for audio that arrives
// while the recognition stream is not ready. When full, the oldest audio is
// discarded so the most recent speech survives.
type PendingBuffer struct {
	mu      sync.Mutex
	data    []byte
	size    int
	dropped int
}

// NewPendingBuffer creates a buffer holding at most size bytes.
func NewPendingBuffer(size int) *PendingBuffer {
	if size <= 0 {
		size = 1
	}
	return &PendingBuffer{size: size}
}

// Write appends data, discarding the oldest bytes beyond capacity.
// Returns the number of bytes discarded by this write.
func (pb *PendingBuffer) Write(data []byte) int {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if len(data) >= pb.size {
		dropped := len(pb.data) + len(data) - pb.size
		pb.data = append(pb.data[:0], data[len(data)-pb.size:]...)
		pb.dropped += dropped
		return dropped
	}

	dropped := 0
	if over := len(pb.data) + len(data) - pb.size; over > 0 {
		// keep sample alignment for 16-bit PCM
		if over%2 != 0 {
			over++
		}
		if over > len(pb.data) {
			over = len(pb.data)
		}
		pb.data = append(pb.data[:0], pb.data[over:]...)
		dropped = over
	}
	pb.data = append(pb.data, data...)
	pb.dropped += dropped
	return dropped
}

// Drain returns the buffered bytes and empties the buffer.
func (pb *PendingBuffer) Drain() []byte {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	out := pb.data
	pb.data = nil
	return out
}

// Len returns the number of buffered bytes.
func (pb *PendingBuffer) Len() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return len(pb.data)
}

// Dropped returns the total number of bytes discarded since creation.
func (pb *PendingBuffer) Dropped() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.dropped
}

// Clear clears the buffer
func (pb *PendingBuffer) Clear() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.data = nil
}
