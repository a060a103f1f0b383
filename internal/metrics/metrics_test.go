package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStartLabelsStrategy(t *testing.T) {
	before := testutil.ToFloat64(ConversionsStarted.WithLabelValues(ModeQueued, "mp3", StrategyCopy))
	RecordStart(ModeQueued, " MP3 ", true)
	after := testutil.ToFloat64(ConversionsStarted.WithLabelValues(ModeQueued, "mp3", StrategyCopy))
	if after != before+1 {
		t.Fatalf("copy counter = %v, want %v", after, before+1)
	}
}

func TestRecordFinishCountsResult(t *testing.T) {
	before := testutil.ToFloat64(ConversionsFinished.WithLabelValues(ResultError))
	RecordFinish(ResultError, time.Time{}, time.Now())
	if got := testutil.ToFloat64(ConversionsFinished.WithLabelValues(ResultError)); got != before+1 {
		t.Fatalf("finished counter = %v, want %v", got, before+1)
	}
}

func TestRecordReapedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(SessionsReaped.WithLabelValues("expired"))
	RecordReaped("expired", 0)
	RecordReaped("expired", 2)
	if got := testutil.ToFloat64(SessionsReaped.WithLabelValues("expired")); got != before+2 {
		t.Fatalf("reaped counter = %v, want %v", got, before+2)
	}
}
