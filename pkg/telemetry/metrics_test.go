package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHandshake(t *testing.T) {
	okBefore := testutil.ToFloat64(HandshakesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(HandshakesTotal.WithLabelValues("error"))

	RecordHandshake(10*time.Millisecond, nil)
	RecordHandshake(10*time.Millisecond, errors.New("refused"))
	RecordHandshake(10*time.Millisecond, errors.New("refused"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(HandshakesTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(HandshakesTotal.WithLabelValues("error")))
}

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(Dispatches.WithLabelValues("delivered", "text"))
	RecordDispatch("delivered", "text")
	assert.Equal(t, before+1, testutil.ToFloat64(Dispatches.WithLabelValues("delivered", "text")))

	missBefore := testutil.ToFloat64(DispatchMisses)
	RecordDispatchMiss()
	assert.Equal(t, missBefore+1, testutil.ToFloat64(DispatchMisses))
}

func TestFrameCounters(t *testing.T) {
	sentBefore := testutil.ToFloat64(FramesSent)
	RecordFrameSent()
	assert.Equal(t, sentBefore+1, testutil.ToFloat64(FramesSent))

	hbBefore := testutil.ToFloat64(FramesReceived.WithLabelValues("heartbeat"))
	RecordFrameReceived("heartbeat")
	assert.Equal(t, hbBefore+1, testutil.ToFloat64(FramesReceived.WithLabelValues("heartbeat")))
}

func TestSetRegisteredRequests(t *testing.T) {
	SetRegisteredRequests(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(RegisteredRequests))
	SetRegisteredRequests(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(RegisteredRequests))
}

func TestRecordRender(t *testing.T) {
	before := testutil.ToFloat64(Renders.WithLabelValues("watch", "error"))
	RecordRender("watch", time.Millisecond, errors.New("parse"))
	assert.Equal(t, before+1, testutil.ToFloat64(Renders.WithLabelValues("watch", "error")))
}
