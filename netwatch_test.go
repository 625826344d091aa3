package netwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinmuyano/netwatch/traffic"
)

func TestRateOf(t *testing.T) {
	bw, err := RateOf(traffic.Transfer{Incoming: 3000, Outgoing: 500}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, BandWidth{InRate: 1500, OutRate: 250}, bw)

	_, err = RateOf(traffic.Transfer{Incoming: 1}, 0)
	assert.ErrorIs(t, err, traffic.ErrZeroInterval)

	_, err = RateOf(traffic.Transfer{Incoming: 1}, 500*time.Microsecond)
	assert.ErrorIs(t, err, traffic.ErrZeroInterval)
}

func TestReportResult(t *testing.T) {
	r := &Report{Processes: []ProcessReport{
		{PID: 42, BandWidth: BandWidth{InRate: 10}},
		{PID: 7, BandWidth: BandWidth{OutRate: 3}},
	}}
	assert.Equal(t, Result{42: {InRate: 10}, 7: {OutRate: 3}}, r.Result())
}

func TestReportSinkFunc(t *testing.T) {
	var got *Report
	var sink ReportSink = ReportSinkFunc(func(r *Report) { got = r })

	r := &Report{Frames: 3}
	sink.Emit(r)
	assert.Same(t, r, got)
}
