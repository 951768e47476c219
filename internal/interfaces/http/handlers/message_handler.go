package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/application/usecase"
	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/service"
)

// Token estimation weights. Image base64 is denser than prose, so it
// counts at six characters per token instead of four.
const (
	charsPerToken      = 4
	charsPerImageToken = 6
)

// sessionHeaders in precedence order; the first non-empty value wins.
// Body fallbacks and UUID minting happen downstream in the use-case.
var sessionHeaders = []string{
	"x-session-id",
	"x-claude-session-id",
	"x-claude-session",
	"x-claude-conversation-id",
	"anthropic-session-id",
}

// MessageHandler terminates POST /v1/messages and its count_tokens
// sibling.
type MessageHandler struct {
	process *usecase.ProcessMessage
	logger  *zap.Logger
}

// NewMessageHandler wires the messages endpoint.
func NewMessageHandler(process *usecase.ProcessMessage, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		process: process,
		logger:  logger.With(zap.String("handler", "messages")),
	}
}

// Messages handles POST /v1/messages. Streaming is requested with
// ?stream=true or body stream:true; buffered results are then wrapped in
// the two-event envelope, provider streams pass through untouched.
func (h *MessageHandler) Messages(c *gin.Context) {
	var req entity.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "messages must not be empty"))
		return
	}
	if c.Query("stream") == "true" {
		req.Stream = true
	}

	outcome := h.process.Execute(c.Request.Context(), usecase.Command{
		Req:             &req,
		HeaderSessionID: headerSessionID(c.Request.Header),
		RequestID:       c.GetString("requestId"),
	})

	decisionHeaders(c, outcome)

	switch {
	case outcome.Replay != nil:
		c.JSON(http.StatusOK, outcome.Replay)
	case outcome.Result != nil:
		h.writeResult(c, &req, outcome.Result)
	default:
		c.JSON(http.StatusInternalServerError, errorBody("api_error", "no result produced"))
	}
}

// CountTokens handles POST /v1/messages/count_tokens.
func (h *MessageHandler) CountTokens(c *gin.Context) {
	var req entity.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "invalid request body: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": estimateInputTokens(&req)})
}

func (h *MessageHandler) writeResult(c *gin.Context, req *entity.MessagesRequest, res *service.Result) {
	if res.Warning != "" {
		c.Writer.Header().Set("X-Agent-Loop-Warning", res.Warning)
	}

	switch {
	case res.Stream != nil:
		h.passThrough(c, res)
	case req.Stream:
		h.writeEnvelope(c, res)
	case res.Body != nil:
		c.JSON(res.Status, comparedResponse{MessagesResponse: res.Body, ToolCallComparison: res.Comparison})
	default:
		c.JSON(res.Status, res.ErrorBody)
	}
}

// comparedResponse extends the canonical body with the dual-call compare
// verdict when compare mode ran.
type comparedResponse struct {
	*entity.MessagesResponse
	ToolCallComparison *service.ToolCallComparison `json:"toolCallComparison,omitempty"`
}

// passThrough copies a live provider stream to the client, flushing as
// bytes arrive.
func (h *MessageHandler) passThrough(c *gin.Context, res *service.Result) {
	defer res.Stream.Close()

	sseHeaders(c)
	c.Writer.WriteHeader(res.Status)
	flusher, _ := c.Writer.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := res.Stream.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// writeEnvelope emits a buffered result as the two-event stream shape:
// "message" carrying the body, then "end" carrying the termination reason.
func (h *MessageHandler) writeEnvelope(c *gin.Context, res *service.Result) {
	sseHeaders(c)
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	var payload any
	if res.Body != nil {
		payload = comparedResponse{MessagesResponse: res.Body, ToolCallComparison: res.Comparison}
	} else {
		payload = res.ErrorBody
	}

	msg, err := json.Marshal(gin.H{"type": "message", "message": payload})
	if err != nil {
		h.logger.Error("envelope marshal failed", zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", msg)

	end, _ := json.Marshal(gin.H{"termination": res.TerminationReason})
	fmt.Fprintf(c.Writer, "event: end\ndata: %s\n\n", end)

	if flusher != nil {
		flusher.Flush()
	}
}

func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

func headerSessionID(h http.Header) string {
	for _, name := range sessionHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// decisionHeaders exposes the routing verdict when one was made.
func decisionHeaders(c *gin.Context, out *usecase.Outcome) {
	d := out.Decision
	if d.Provider == "" {
		return
	}
	h := c.Writer.Header()
	h.Set("X-Provider", d.Provider)
	if d.Model != "" {
		h.Set("X-Model", d.Model)
	}
	h.Set("X-Tier", string(d.Tier))
	h.Set("X-Routing-Method", d.Method)
	h.Set("X-Routing-Reason", d.Reason)
	h.Set("X-Complexity-Score", strconv.Itoa(d.Score))
	h.Set("X-Complexity-Threshold", strconv.Itoa(d.Threshold))
	if d.Agentic != "" {
		h.Set("X-Agentic", d.Agentic)
	}
	h.Set("X-Cost-Optimized", strconv.FormatBool(d.CostOptimized))
	if out.CacheHit != "" {
		h.Set("X-Cache", out.CacheHit)
	}
}

// estimateInputTokens is ceil(chars/4) over system, tools JSON and message
// content, with image base64 counted separately at chars/6.
func estimateInputTokens(req *entity.MessagesRequest) int {
	chars := len(req.System)
	if len(req.Tools) > 0 {
		if b, err := json.Marshal(req.Tools); err == nil {
			chars += len(b)
		}
	}
	imageChars := 0
	for _, m := range req.Messages {
		for _, block := range m.Content {
			chars += len(block.Text) + len(block.Content) + len(block.Thinking)
			if block.Input != nil {
				if b, err := json.Marshal(block.Input); err == nil {
					chars += len(b)
				}
			}
			if block.Type == entity.BlockImage && block.Source != nil {
				if data, ok := block.Source["data"].(string); ok {
					imageChars += len(data)
				}
			}
		}
	}
	tokens := (chars + charsPerToken - 1) / charsPerToken
	if imageChars > 0 {
		tokens += (imageChars + charsPerImageToken - 1) / charsPerImageToken
	}
	return tokens
}

func errorBody(errType, message string) gin.H {
	return gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	}
}
