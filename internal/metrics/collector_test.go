package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "smacc",
			Subsystem: "test",
		}
		collector, err := NewCollector(config)
		require.NoError(t, err)
		require.NotNil(t, collector)
		assert.Same(t, config, collector.config)
		assert.NotNil(t, collector.Registry())
		assert.NotNil(t, collector.operations)
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		require.NoError(t, err)
		require.NotNil(t, collector.config)
		assert.Equal(t, "/metrics", collector.config.Path)
		assert.Equal(t, "smacc", collector.config.Namespace)
		assert.Zero(t, collector.config.Port)
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, collector)
		assert.Nil(t, collector.Registry())
	})
}

func TestNilAndDisabledCollectorsAreNoops(t *testing.T) {
	t.Parallel()

	disabled, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	for name, c := range map[string]*Collector{"nil": nil, "disabled": disabled} {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				c.RecordOperation("read", time.Millisecond, 10, true)
				c.RecordPolicyEvent("accessed", types.TierMemory)
				c.RecordAdmission("write", types.LocationMemoryDisk)
				c.RecordEviction(types.TierDisk, "delete")
				c.RecordWriteBack("success", 10)
				c.SetQueueDepth(3)
				c.SetTierUsage(types.TierMemory, 10)
				c.RecordError("read", errors.New("boom"))
				c.ResetMetrics()
				assert.Empty(t, c.GetMetrics())
				assert.NoError(t, c.Start(context.Background()))
				assert.NoError(t, c.Stop(context.Background()))
			})
		})
	}
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordOperation("create", 10*time.Millisecond, 100, true)
	c.RecordOperation("create", 30*time.Millisecond, 300, false)

	ops := c.GetMetrics()["operations"].(map[string]*OperationMetrics)
	require.Contains(t, ops, "create")
	op := ops["create"]
	assert.EqualValues(t, 2, op.Count)
	assert.EqualValues(t, 1, op.Errors)
	assert.EqualValues(t, 400, op.TotalSize)
	assert.Equal(t, 20*time.Millisecond, op.AvgDuration)
	assert.InDelta(t, 200.0, op.AvgSize, 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationCounter.WithLabelValues("create", "error")))

	// snapshot is a copy
	op.Count = 99
	again := c.GetMetrics()["operations"].(map[string]*OperationMetrics)
	assert.EqualValues(t, 2, again["create"].Count)

	c.ResetMetrics()
	assert.Empty(t, c.GetMetrics()["operations"])
}

func TestCacheEventMetrics(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordPolicyEvent("added", types.TierMemory)
	c.RecordPolicyEvent("added", types.TierMemory)
	c.RecordPolicyEvent("deleted", types.TierDisk)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.policyEvents.WithLabelValues("added", "memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.policyEvents.WithLabelValues("deleted", "disk")))

	c.RecordAdmission("write", types.LocationDiskOnly)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admissions.WithLabelValues("write", "disk_only")))

	c.RecordEviction(types.TierMemory, "downgrade")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evictions.WithLabelValues("memory", "downgrade")))

	c.RecordWriteBack("success", 512)
	c.RecordWriteBack("failure", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writeBackJobs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writeBackJobs.WithLabelValues("failure")))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.writeBackBytes))

	c.SetQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))

	c.SetTierUsage(types.TierDisk, 4096)
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.tierUsage.WithLabelValues("disk")))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cache error", cerrors.NotFound("b", "k"), "OBJECT_NOT_FOUND"},
		{"wrapped cache error", fmt.Errorf("read: %w", cerrors.NewError(cerrors.ErrCodeStorageRead, "x")), "STORAGE_READ"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), "canceled"},
		{"plain", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordError("read", cerrors.NotFound("b", "k"))
	c.RecordError("read", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("read", "OBJECT_NOT_FOUND")))
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	c, err := NewCollector(nil)
	require.NoError(t, err)

	// no port: Start does not serve
	require.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}
