package restyutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentOutput receives the rendered exchange of every attempt under an
// increasing id.
type InstrumentOutput interface {
	Write(id string, contents string)
}

type instrument struct {
	output InstrumentOutput
	tracer trace.Tracer
	seq    *atomic.Uint64
}

type exchangeKey struct{}

// InstrumentClient opens a client span per attempt and hands each finished
// exchange to output. A nil tracer uses the global "resty" tracer, a nil
// output only records spans.
func InstrumentClient(client *resty.Client, tracer trace.Tracer, output InstrumentOutput) {
	if tracer == nil {
		tracer = otel.Tracer("resty")
	}
	i := instrument{output: output, tracer: tracer, seq: &atomic.Uint64{}}
	client.OnBeforeRequest(i.before)
	client.OnAfterResponse(i.after)
	client.OnError(i.failed)
}

func (i instrument) before(_ *resty.Client, req *resty.Request) error {
	ctx, _ := i.tracer.Start(req.Context(), "http "+req.Method, trace.WithSpanKind(trace.SpanKindClient))

	id := fmt.Sprintf("%04d", i.seq.Add(1))
	slog.DebugContext(ctx, "http request",
		"method", req.Method,
		"url", req.URL,
		"attempt", req.Attempt,
		"exchange", id,
	)
	req.SetContext(context.WithValue(ctx, exchangeKey{}, id))
	return nil
}

func (i instrument) after(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", res.Request.Method),
		attribute.String("url.full", res.Request.URL),
		attribute.Int("http.response.status_code", res.StatusCode()),
		attribute.Int("http.request.resend_count", res.Request.Attempt-1),
		attribute.Int("http.response.body.size", len(res.Body())),
	)
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
	}

	id, _ := ctx.Value(exchangeKey{}).(string)
	if i.output != nil && res.Request.RawRequest != nil {
		i.output.Write(id, formatExchange(res))
	}
	slog.DebugContext(ctx, "http response",
		"status", res.StatusCode(),
		"bytes", len(res.Body()),
		"elapsed", res.Time(),
		"exchange", id,
	)
	return nil
}

func (i instrument) failed(req *resty.Request, err error) {
	ctx := req.Context()
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")
	span.End()

	id, _ := ctx.Value(exchangeKey{}).(string)
	slog.DebugContext(ctx, "http request failed",
		"url", req.URL,
		"err", err,
		"exchange", id,
	)
}
