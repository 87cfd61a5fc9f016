package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":    slog.LevelDebug,
		"trace":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"":         slog.LevelInfo,
		"nonsense": slog.LevelInfo,
		"warning":  slog.LevelWarn,
		" WARN ":   slog.LevelWarn,
		"ERROR":    slog.LevelError,
		"CRITICAL": slog.LevelError,
	}
	for in, expect := range cases {
		require.Equal(t, expect, ParseLevel(in), in)
	}
}

func TestSlogAPI(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	InitSlog(&buf, "WARN", true)

	api := NewScopedAPI("pipeline", SlogAPI{})
	api.ReportDebug("hidden below warn")
	api.ReportBroken("fetcher.fetch", errors.New("connection refused"), 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "broken component", line["msg"])
	require.Equal(t, "pipeline/fetcher.fetch", line["id"])
	require.Equal(t, "connection refused", line["params.0"])
	require.EqualValues(t, 3, line["params.1"])
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	api := NewScopedAPI("store", rec)
	api.ReportWarning("filestore.load-line", 4)
	api.ReportBroken("sqlstore.upsert-batch")
	api.ReportCount("rows", 7)
	api.ReportCount("rows", 9)

	require.Len(t, rec.Find("warning", "load-line"), 1)
	require.Equal(t, []any{4}, rec.Find("warning", "load-line")[0].Params)
	require.Len(t, rec.Find("broken", "store/"), 1)
	require.Empty(t, rec.Find("debug", ""))
	require.Equal(t, int64(9), rec.Counts["store/rows"])
}

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), Service{Name: "cdsfeeder-test"}, Config{SampleRatio: 0.5})
	require.NoError(t, err)
	require.False(t, tel.Enabled())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Equal(t, "AlwaysOnSampler", sampler(0).Description())
	require.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestSlogAPIWithLogger(t *testing.T) {
	var buf bytes.Buffer
	api := SlogAPI{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	api.ReportWarning("normalizer.drop-row", "row 4: unparseable date")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARN", line["level"])
	require.Equal(t, "normalizer.drop-row", line["id"])
	require.Equal(t, "row 4: unparseable date", line["params.0"])
}
