package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/track"
)

func newTestTrack(t *testing.T) *track.Track {
	t.Helper()
	tr, err := track.New(track.Deps{Config: track.Config{OutputDir: t.TempDir()}})
	require.NoError(t, err)
	return tr
}

func TestNew_RequiresSourceAndTrack(t *testing.T) {
	tr := newTestTrack(t)

	_, err := New(Deps{Track: tr})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoDataSource)
	assert.True(t, errors.IsFatal(err))

	_, err = New(Deps{Source: func() comms.RawData { return nil }})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoDataSource)
}

func TestAggregate_FlattensLatestSamples(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	source := func() comms.RawData {
		return comms.RawData{
			"rm1/gps/lat": {
				{Timestamp: t0, Value: 45.5},
				{Timestamp: t1, Value: 45.6},
			},
		}
	}

	tr := newTestTrack(t)
	agg, err := New(Deps{Source: source, Track: tr})
	require.NoError(t, err)

	require.NoError(t, agg.Aggregate())

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 45.6, latest.InputData["rm1/gps/lat"])
	assert.Equal(t, t1, latest.InputData["rm1/last_timestamp"])
}

func TestFlatten_EmptyTopicYieldsNil(t *testing.T) {
	flat := Flatten(comms.RawData{"rm1/gps/lat": nil})

	require.Contains(t, flat, "rm1/gps/lat")
	require.Contains(t, flat, "rm1/last_timestamp")
	assert.Nil(t, flat["rm1/gps/lat"])
	assert.Nil(t, flat["rm1/last_timestamp"])
}

func TestAggregate_AppendErrorIsReturnedNotFatal(t *testing.T) {
	tr, err := track.New(track.Deps{Config: track.Config{
		OutputDir:  t.TempDir(),
		FieldNames: []string{"rm1/gps/lat", "rm1/last_timestamp"},
	}})
	require.NoError(t, err)

	calls := 0
	source := func() comms.RawData {
		calls++
		if calls == 1 {
			return comms.RawData{"rm1/gps/lat": {{Timestamp: time.Now(), Value: 45.5}}}
		}
		return comms.RawData{"rm2/gps/lat": {{Timestamp: time.Now(), Value: 45.5}}}
	}

	agg, err := New(Deps{Source: source, Track: tr})
	require.NoError(t, err)

	require.NoError(t, agg.Aggregate())

	err = agg.Aggregate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInconsistentFields)
	assert.Equal(t, 1, tr.Len())

	// A later consistent cycle succeeds again.
	calls = 0
	require.NoError(t, agg.Aggregate())
	assert.Equal(t, 2, tr.Len())
}

func TestLoop_SurvivesPanickingSource(t *testing.T) {
	calls := 0
	source := func() comms.RawData {
		calls++
		if calls == 1 {
			panic("transport blew up")
		}
		return comms.RawData{"rm1/gps/lat": {{Timestamp: time.Now(), Value: 45.5}}}
	}

	tr := newTestTrack(t)
	agg, err := New(Deps{Config: Config{Interval: 5 * time.Millisecond}, Source: source, Track: tr})
	require.NoError(t, err)

	agg.Start()
	defer agg.Stop()

	require.Eventually(t, func() bool { return tr.Len() > 0 }, time.Second, 5*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	tr := newTestTrack(t)
	agg, err := New(Deps{
		Config: Config{Interval: 5 * time.Millisecond},
		Source: func() comms.RawData { return comms.RawData{} },
		Track:  tr,
	})
	require.NoError(t, err)

	agg.Start()
	agg.Start() // idempotent
	assert.True(t, agg.Running())

	require.Eventually(t, func() bool { return tr.Len() > 0 }, time.Second, 5*time.Millisecond)

	agg.Stop()
	assert.False(t, agg.Running())

	// The loop has joined; no more points arrive.
	n := tr.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, tr.Len())

	agg.Stop() // idempotent
}

func TestSetInterval(t *testing.T) {
	tr := newTestTrack(t)
	agg, err := New(Deps{
		Source: func() comms.RawData { return comms.RawData{} },
		Track:  tr,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Second, agg.Interval())

	agg.SetInterval(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, agg.Interval())

	agg.SetInterval(0)
	assert.Equal(t, 250*time.Millisecond, agg.Interval())
}
