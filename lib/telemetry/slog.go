package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InitSlog installs the default slog logger. Text output is meant for a
// terminal, JSON output for log collectors.
func InitSlog(w io.Writer, level string, json bool) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SlogAPI implements API on top of log/slog. The zero value logs through
// slog.Default(). Positional params are logged as params.0, params.1 and so
// on, counts are also recorded on the report_count gauge.
type SlogAPI struct {
	Logger *slog.Logger
}

func (s SlogAPI) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s SlogAPI) log(level slog.Level, msg, id string, params []any) {
	logger := s.logger()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(params)+1)
	if id != "" {
		attrs = append(attrs, slog.String("id", id))
	}
	for i, p := range params {
		key := "params." + strconv.Itoa(i)
		if err, ok := p.(error); ok {
			attrs = append(attrs, slog.String(key, err.Error()))
			continue
		}
		attrs = append(attrs, slog.Any(key, p))
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.log(slog.LevelError, "broken component", id, params)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.log(slog.LevelWarn, "warning", id, params)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	s.log(slog.LevelDebug, message, "", params)
}

var countGauge, _ = Meter("cdsfeeder.telemetry").Int64Gauge("report_count")

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger().Info("count", "id", id, "n", count)
	if countGauge != nil {
		countGauge.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
	}
}
