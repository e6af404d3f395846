package utils

import (
	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer of samples.
// Appending to a full buffer overwrites the oldest sample.
// Not safe for concurrent use; callers hold their own lock.
// -----------------------------------------------------------------------------

type RingBuffer struct {
	data     []models.MSample
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 100
	}

	return &RingBuffer{
		data:     make([]models.MSample, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds a sample, evicting the oldest one when full
func (rb *RingBuffer) Append(sample models.MSample) {
	rb.data[rb.index] = sample
	rb.index = (rb.index + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n newest samples, oldest first
func (rb *RingBuffer) GetLatest(n int) []models.MSample {
	if rb.size == 0 || n <= 0 {
		return []models.MSample{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]models.MSample, count)
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all samples in insertion order (oldest to newest)
func (rb *RingBuffer) GetAll() []models.MSample {
	return rb.GetLatest(rb.size)
}
