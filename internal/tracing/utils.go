package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

const (
	SpanTagAccountId    = "account-id"
	SpanTagFolderName   = "folder-name"
	SpanTagWorkerId     = "worker-id"
	SpanTagDeliveryId   = "delivery-id"
	SpanTagComponent    = "component"
)

const (
	SpanTagComponentPostgresRepository = "postgresRepository"
	SpanTagComponentService            = "service"
	SpanTagComponentDispatcher         = "dispatcher"
	SpanTagComponentCoordinator        = "coordinator"
	SpanTagComponentCronJob            = "cronJob"
)

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
	return serverSpan, opentracing.ContextWithSpan(ctx, serverSpan)
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func SetDefaultServiceSpanTags(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentService)
}

func TagComponentPostgresRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentPostgresRepository)
}

func TagComponentDispatcher(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentDispatcher)
}

func TagComponentCoordinator(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCoordinator)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagAccount(span opentracing.Span, accountID string) {
	if accountID != "" {
		span.SetTag(SpanTagAccountId, accountID)
	}
}

func TagFolder(span opentracing.Span, folderName string) {
	if folderName != "" {
		span.SetTag(SpanTagFolderName, folderName)
	}
}
