package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOpCountsSuccessAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg)

	h.RecordOp("write", time.Now(), nil, "")
	h.RecordOp("write", time.Now(), assertErr, "not-found")

	assert.Equal(t, float64(2), testutil.ToFloat64(h.opsCount.WithLabelValues("write")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.opsErrorCount.WithLabelValues("write", "not-found")))
}

func TestRecordBlockPutDistinguishesDedup(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg)

	h.RecordBlockPut(false, 4096, 1024)
	h.RecordBlockPut(true, 4096, 1024)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.blockPutCount.WithLabelValues("new")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.blockPutCount.WithLabelValues("deduped")))
	assert.Equal(t, float64(8192), testutil.ToFloat64(h.blockBytesIn))
	assert.Equal(t, float64(1024), testutil.ToFloat64(h.blockBytesStored))
}

func TestRecordLockWaitTracksContention(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg)

	h.RecordLockWait(5*time.Millisecond, false)
	h.RecordLockWait(50*time.Millisecond, true)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.lockContentedCount))
}

func TestNilHandleIsSafeToUse(t *testing.T) {
	var h *Handle
	assert.NotPanics(t, func() {
		h.RecordOp("write", time.Now(), nil, "")
		h.RecordBlockPut(true, 1, 1)
		h.RecordExtentCommit(3)
		h.RecordSnapshotGeneration()
		h.RecordLockWait(time.Millisecond, true)
	})
}

var assertErr = errSentinel{}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }
