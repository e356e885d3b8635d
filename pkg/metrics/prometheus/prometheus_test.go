package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsstream/pkg/metrics"
)

func TestDisabledReturnsNil(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, metrics.NewPoolMetrics())
	assert.Nil(t, metrics.NewStreamMetrics())
	assert.Nil(t, metrics.NewClientMetrics())
}

func TestStreamMetrics(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := metrics.NewStreamMetrics()
	require.NotNil(t, m)

	// A second constructor call shares the collectors instead of panicking
	// on duplicate registration.
	again := metrics.NewStreamMetrics()
	assert.Same(t, m, again)

	m.ObserveCall("write", 2*time.Millisecond, 16384, nil)
	m.ObserveCall("write", time.Millisecond, 0, errors.New("EIO"))
	m.RecordDeferredError()
	m.RecordSeekCorrection(100)
	m.RecordReleaseFailure()

	sm := m.(*streamMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.callsTotal.WithLabelValues("write", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.callsTotal.WithLabelValues("write", "error")))
	assert.Equal(t, 16384.0, testutil.ToFloat64(sm.bytesTotal.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.deferredErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.releaseFailures))
}

func TestPoolAndClientMetrics(t *testing.T) {
	reg := metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	pm := metrics.NewPoolMetrics()
	require.NotNil(t, pm)
	pm.ObserveTask("read", time.Millisecond, 3*time.Millisecond, false)
	pm.SetQueue(2, 5)

	p := pm.(*poolMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.pending))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.running))

	cm := metrics.NewClientMetrics()
	require.NotNil(t, cm)
	cm.RecordRequest("READ", "/export", time.Millisecond, "NFS3_OK")
	cm.RecordBytes("READ", "/export", 4096)

	c := cm.(*clientMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("READ", "/export", "NFS3_OK")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.bytesTotal.WithLabelValues("READ", "/export")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "nfsstream_pool_tasks_total")
	assert.Contains(t, names, "nfsstream_nfs_requests_total")
}

func TestNilReceiversAreSafe(t *testing.T) {
	var s *streamMetrics
	var p *poolMetrics
	var c *clientMetrics

	assert.NotPanics(t, func() {
		s.ObserveCall("read", 0, 1, nil)
		s.RecordDeferredError()
		s.RecordSeekCorrection(1)
		s.RecordReleaseFailure()
		p.ObserveTask("read", 0, 0, true)
		p.SetQueue(0, 0)
		c.RecordRequest("READ", "/", 0, "NFS3_OK")
		c.RecordBytes("READ", "/", 1)
	})
}
