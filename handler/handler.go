package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
	"site-assistant/internal/sequencer"
	"site-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Start(ctx context.Context) (usecase.Output, error)
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.Output, error)
	Transcript(ctx context.Context, sessionID string) (usecase.Output, error)
	End(ctx context.Context, sessionID string) error
	Classify(text string) (classifier.Decision, error)
}

type Handler struct {
	uc ChatUseCase
}

type textRequest struct {
	Text string `json:"text"`
}

type decisionResponse struct {
	Matched  bool                   `json:"matched"`
	Template domain.PreviewKind     `json:"template,omitempty"`
	Preview  *domain.ProjectPreview `json:"preview,omitempty"`
	Topic    classifier.Topic       `json:"topic,omitempty"`
	Reply    string                 `json:"reply,omitempty"`
}

type sessionResponse struct {
	SessionID string               `json:"sessionId"`
	Accepted  bool                 `json:"accepted"`
	Messages  []domain.ChatMessage `json:"messages"`
	Stage     sequencer.Stage      `json:"stage"`
	Typing    bool                 `json:"typing"`
	Turns     int                  `json:"turns"`
	NextAt    *time.Time           `json:"nextAt,omitempty"`
	Decision  *decisionResponse    `json:"decision,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle routes an API Gateway proxy request. Errors are always rendered as
// JSON responses; the returned error is reserved for the Lambda runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := correlationID(req.Headers)
	log := slog.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	resp := h.route(ctx, log, req)
	resp.Headers[correlationHeader] = corrID

	log.Info("request handled", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	parts := splitPath(req.Path)
	method := strings.ToUpper(req.HTTPMethod)

	switch {
	case len(parts) == 1 && parts[0] == "classify":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.classify(log, req.Body)

	case len(parts) == 1 && parts[0] == "sessions":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		out, err := h.uc.Start(ctx)
		if err != nil {
			return useCaseError(log, err)
		}
		return jsonResponse(http.StatusCreated, toSessionResponse(out))

	case len(parts) == 2 && parts[0] == "sessions":
		id := sessionID(req, parts[1])
		switch method {
		case http.MethodGet:
			out, err := h.uc.Transcript(ctx, id)
			if err != nil {
				return useCaseError(log, err)
			}
			return jsonResponse(http.StatusOK, toSessionResponse(out))
		case http.MethodDelete:
			if err := h.uc.End(ctx, id); err != nil {
				return useCaseError(log, err)
			}
			return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: map[string]string{}}
		default:
			return methodNotAllowed()
		}

	case len(parts) == 3 && parts[0] == "sessions" && parts[2] == "messages":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		var body textRequest
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json")
		}
		out, err := h.uc.Submit(ctx, usecase.SubmitInput{SessionID: sessionID(req, parts[1]), Text: body.Text})
		if err != nil {
			return useCaseError(log, err)
		}
		return jsonResponse(http.StatusOK, toSessionResponse(out))
	}

	return errorJSON(http.StatusNotFound, "NOT_FOUND", "unknown_route")
}

func (h *Handler) classify(log *slog.Logger, raw string) events.APIGatewayProxyResponse {
	var body textRequest
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json")
	}
	d, err := h.uc.Classify(body.Text)
	if err != nil {
		return useCaseError(log, err)
	}
	return jsonResponse(http.StatusOK, toDecisionResponse(d))
}

func toSessionResponse(out usecase.Output) sessionResponse {
	resp := sessionResponse{
		SessionID: out.SessionID,
		Accepted:  out.Accepted,
		Messages:  out.Snapshot.Messages,
		Stage:     out.Snapshot.Stage,
		Typing:    out.Snapshot.Typing,
		Turns:     out.Snapshot.Turns,
		NextAt:    out.NextAt,
	}
	if resp.Messages == nil {
		resp.Messages = []domain.ChatMessage{}
	}
	if out.Decision != nil {
		d := toDecisionResponse(*out.Decision)
		resp.Decision = &d
	}
	return resp
}

func toDecisionResponse(d classifier.Decision) decisionResponse {
	resp := decisionResponse{Matched: d.Matched(), Topic: d.Topic, Reply: d.Reply}
	if d.Preview != nil {
		p := d.Preview.Clone()
		resp.Template = p.Kind
		resp.Preview = &p
	}
	return resp
}

func useCaseError(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	ue := usecase.AsError(err)
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", err)
	} else {
		log.Warn("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return errorJSON(status, string(ue.Code), ue.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return errorJSON(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method_not_allowed")
}

func errorJSON(status int, code, reason string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Reason: reason})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// sessionID prefers the API Gateway path parameter over the raw path segment.
func sessionID(req events.APIGatewayProxyRequest, fromPath string) string {
	if id := req.PathParameters["id"]; id != "" {
		return id
	}
	return fromPath
}

// splitPath drops empty segments and an optional stage prefix.
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for len(parts) > 0 && parts[0] != "sessions" && parts[0] != "classify" && len(parts) > 1 {
		parts = parts[1:]
	}
	return parts
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
