package chrono

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cdsfeeder/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestStandardImpl(t *testing.T) {
	clock, err := NewStandardImpl("")
	require.NoError(t, err)
	require.Equal(t, DefaultLocation, clock.Location().String())
	require.Equal(t, DefaultLocation, clock.Now().Location().String())
	require.WithinDuration(t, time.Now(), clock.Now(), time.Second)

	_, err = NewStandardImpl("Nowhere/Special")
	require.Error(t, err)
}

func TestValidateSpec(t *testing.T) {
	require.NoError(t, ValidateSpec("0 22 * * 1-5"))
	require.Error(t, ValidateSpec("every evening"))
}

func TestCronSkipsOverlappingRuns(t *testing.T) {
	rec := &telemetry.Recorder{}
	c := NewStandardCron(rec, time.UTC)

	var running, started int32
	release := make(chan struct{})
	require.NoError(t, c.Cron("@every 1s", func() {
		atomic.AddInt32(&started, 1)
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			t.Error("job invocations overlapped")
		}
		<-release
		atomic.StoreInt32(&running, 0)
	}))

	c.Start()
	require.False(t, c.Next().IsZero())
	time.Sleep(3500 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.EqualValues(t, 1, atomic.LoadInt32(&started))
	require.NotEmpty(t, rec.Find("warning", "cron.skip"))
}
