package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(DefaultConfig(), reg)

	c.ChannelOpened()
	c.ChannelOpened()
	c.PacketIn("accepted")
	c.PacketIn("accepted")
	c.PacketIn("skipped")
	c.PacketOut()
	c.ChannelClosed("requested", 4.5)
	c.Tick(time.Millisecond, 20*time.Millisecond)
	c.Tick(30*time.Millisecond, 20*time.Millisecond)

	assert.Equal(t, int64(1), c.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.channelsOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.packetsIn.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packetsIn.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packetsOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelsClosed.WithLabelValues("requested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tickOverruns))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "rtpengine_channel_mos")
	assert.Contains(t, names, "rtpengine_engine_tick_duration_seconds")
}

func TestDisabledAndNilCollector(t *testing.T) {
	disabled := NewCollector(Config{Enabled: false}, prometheus.NewRegistry())
	disabled.ChannelOpened()
	disabled.PacketIn("accepted")
	assert.Zero(t, disabled.Active())

	var nilCollector *Collector
	assert.NotPanics(t, func() {
		nilCollector.ChannelOpened()
		nilCollector.ChannelClosed("idle", 1)
		nilCollector.PacketOut()
		nilCollector.Tick(time.Second, time.Millisecond)
	})
}
