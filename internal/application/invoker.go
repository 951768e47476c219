package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/parser"
	"github.com/modelgate/modelgate/internal/domain/service"
	"github.com/modelgate/modelgate/internal/infrastructure/llm"
	"github.com/modelgate/modelgate/internal/infrastructure/monitoring"
)

// modelInvoker is the loop's view of the provider fleet. One Invoke is one
// step: failover-routed transport, envelope normalisation and tool-call
// extraction, with every failure reified into a Fault so the loop never
// handles a Go error.
type modelInvoker struct {
	failover *llm.Failover
	parsers  *parser.Registry
	monitor  *monitoring.Monitor
	logger   *zap.Logger
}

func newModelInvoker(failover *llm.Failover, parsers *parser.Registry, monitor *monitoring.Monitor, logger *zap.Logger) *modelInvoker {
	return &modelInvoker{
		failover: failover,
		parsers:  parsers,
		monitor:  monitor,
		logger:   logger.Named("invoker"),
	}
}

func (m *modelInvoker) Invoke(ctx context.Context, provider string, req *entity.MessagesRequest) *service.ModelReply {
	start := time.Now()
	resp, err := m.failover.Invoke(ctx, provider, req, llm.InvokeOptions{Stream: req.Stream})
	if m.monitor != nil {
		m.monitor.IncModelCall()
		m.monitor.RecordModelLatency(time.Since(start))
	}

	if err != nil {
		return &service.ModelReply{Fault: faultFromError(err), Provider: provider}
	}

	if resp.IsStream() {
		status := resp.Status
		if status == 0 {
			status = 200
		}
		return &service.ModelReply{
			Status:   status,
			Stream:   resp.Stream,
			Provider: resp.ActualProvider,
		}
	}

	if !resp.OK {
		fault := faultFromError(resp.Err())
		fault.Body = resp.JSON
		return &service.ModelReply{Fault: fault, Provider: resp.ActualProvider}
	}

	// A 2xx that is not a JSON object cannot be normalised at all; the
	// loop records it distinctly from a JSON body of the wrong shape.
	if resp.JSON == nil {
		return &service.ModelReply{
			Fault: &service.Fault{
				Reason:  entity.TermNonJSONResponse,
				Status:  502,
				Message: "provider returned a non-JSON body (content-type " + resp.ContentType + ")",
			},
			Provider: resp.ActualProvider,
		}
	}

	normalized, err := llm.Normalize(resp, req.Model)
	if err != nil {
		m.logger.Warn("response normalisation failed",
			zap.String("provider", resp.ActualProvider),
			zap.Error(err))
		return &service.ModelReply{Fault: faultFromError(err), Provider: resp.ActualProvider}
	}

	return &service.ModelReply{
		Status:    resp.Status,
		Response:  normalized,
		ToolCalls: llm.ExtractToolCalls(normalized, m.parsers),
		Provider:  resp.ActualProvider,
	}
}

// faultFromError maps a typed provider error onto the termination reason
// and HTTP status the loop surfaces.
func faultFromError(err error) *service.Fault {
	if err == nil {
		return &service.Fault{
			Reason:  entity.TermAPIError,
			Status:  502,
			Message: "provider returned no response",
		}
	}

	kind, ok := llm.KindOf(err)
	if !ok {
		return &service.Fault{
			Reason:  entity.TermAPIError,
			Status:  502,
			Message: err.Error(),
		}
	}

	status := 502
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		status = pe.HTTPStatus()
	}

	reason := entity.TermAPIError
	switch kind {
	case llm.KindProviderUnreachable:
		reason = entity.TermProviderUnreachable
	case llm.KindModelUnavailable:
		reason = entity.TermModelUnavailable
	case llm.KindMalformedResponse:
		reason = entity.TermMalformedResponse
	case llm.KindAPIError, llm.KindContextOverflow:
		reason = entity.TermAPIError
	}

	return &service.Fault{
		Reason:  reason,
		Status:  status,
		Message: err.Error(),
	}
}
