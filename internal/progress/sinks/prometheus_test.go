package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pccwatch/tender-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are
// incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StagePageDone, Page: 1, Rows: 100},
		{
			RunID: runID,
			TS:    time.Now(),
			Stage: progress.StageRecordFound,
			URL:   "https://web.pcc.gov.tw/tps?pk=1",
		},
		{
			RunID:  runID,
			TS:     time.Now(),
			Stage:  progress.StageDetailDone,
			Result: progress.ResultSuccess,
			Dur:    2 * time.Second,
		},
		{
			RunID:  runID,
			TS:     time.Now(),
			Stage:  progress.StageChallengeDone,
			Result: progress.ResultSolved,
		},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.recordsFound))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.detailsTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.challenges.WithLabelValues("solved")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.detailDuration, "tender_detail_duration_seconds"))
}

// TestPrometheusSinkRunningGauge tracks the running gauge across start and
// error completion.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "browser crashed"},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
