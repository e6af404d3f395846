package utils

import (
	"testing"
	"time"

	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
)

func sample(i int) models.MSample {
	return models.MSample{Timestamp: time.Unix(int64(i), 0), Value: float64(i)}
}

func values(samples []models.MSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func TestRingBuffer_AppendAndWrap(t *testing.T) {
	rb := NewRingBuffer(3)
	assert.Empty(t, rb.GetAll())

	rb.Append(sample(1))
	rb.Append(sample(2))
	assert.Equal(t, []float64{1, 2}, values(rb.GetAll()))

	rb.Append(sample(3))
	rb.Append(sample(4))
	assert.Equal(t, []float64{2, 3, 4}, values(rb.GetAll()))
	assert.Equal(t, []float64{3, 4}, values(rb.GetLatest(2)))
	assert.Equal(t, []float64{2, 3, 4}, values(rb.GetLatest(10)))
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	for i := 1; i <= 101; i++ {
		rb.Append(sample(i))
	}
	all := rb.GetAll()
	assert.Len(t, all, 100)
	assert.Equal(t, 2.0, all[0].Value)
}
