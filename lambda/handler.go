package lambda

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type Dispatcher interface {
	HandleRequest(ctx context.Context, req *types.Request) *types.Result
	HandleScheduled(ctx context.Context, name string)
}

// Handler is the process-event host. A cron envelope fires a scheduled
// trigger; anything else is read as an API Gateway v2 HTTP event.
type Handler struct {
	dispatcher Dispatcher
	logger     types.Logger
}

func NewHandler(dispatcher Dispatcher, logger types.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// Start hands the process over to the Lambda runtime. It does not return.
func (h *Handler) Start() {
	awslambda.Start(h.Handle)
}

func (h *Handler) Handle(ctx context.Context, event json.RawMessage) (interface{}, error) {
	var envelope types.ScheduledEnvelope
	if err := utils.Unmarshal(event, &envelope); err == nil && envelope.IsScheduled() {
		h.dispatcher.HandleScheduled(ctx, envelope.Zap.Cron)
		return nil, nil
	}

	var httpEvent events.APIGatewayV2HTTPRequest
	if err := utils.Unmarshal(event, &httpEvent); err != nil {
		h.logger.Error("Failed to decode event", zap.Error(err))
		return nil, types.Errorf(types.ErrEventUnknown, "%v", err)
	}

	req, err := NewRequest(&httpEvent)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: fasthttp.StatusBadRequest,
			Body:       err.Error(),
		}, nil
	}

	result := h.dispatcher.HandleRequest(ctx, req)

	return events.APIGatewayV2HTTPResponse{
		StatusCode: result.Status,
		Headers:    result.Headers,
		Body:       result.Body,
	}, nil
}

// NewRequest normalizes an API Gateway v2 HTTP event. Base64 bodies are
// decoded and the last repeated query key wins.
func NewRequest(event *events.APIGatewayV2HTTPRequest) (*types.Request, error) {
	req := &types.Request{
		Method:  event.RequestContext.HTTP.Method,
		Path:    event.RawPath,
		Query:   make(map[string]string),
		Headers: make(map[string]string, len(event.Headers)),
	}

	if req.Method == "" {
		req.Method = fasthttp.MethodGet
	}
	if req.Path == "" {
		req.Path = "/"
	}

	if event.RawQueryString != "" {
		args := fasthttp.AcquireArgs()
		args.Parse(event.RawQueryString)
		args.VisitAll(func(key, value []byte) {
			req.Query[string(key)] = string(value)
		})
		fasthttp.ReleaseArgs(args)
	}

	for key, value := range event.Headers {
		req.Headers[strings.ToLower(key)] = value
	}

	if event.Body != "" {
		body := event.Body
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return nil, types.WrapError(err, "invalid base64 body")
			}
			body = string(decoded)
		}
		req.Body = &body
	}

	return req, nil
}
