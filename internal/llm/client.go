package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ResponseFormat hints whether the caller expects free text or JSON.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json_object"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Image is an optional attachment sent alongside the prompt.
type Image struct {
	Data     []byte
	MIMEType string // sniffed from Data when empty
}

// InvokeRequest holds the parameters for one model call.
type InvokeRequest struct {
	Task         TaskType
	SystemPrompt string
	UserPrompt   string
	Image        *Image
	Effort       ReasoningEffort // empty uses task default
	Format       ResponseFormat
	MaxTokens    *int // nil uses task default
}

// Usage counts the tokens a single call consumed.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		ReasoningTokens:  u.ReasoningTokens + o.ReasoningTokens,
	}
}

// InvokeResponse holds the result of a successful model call.
type InvokeResponse struct {
	Text      string
	Model     string
	Usage     Usage
	LatencyMs int64
}

// ModelClient submits a prompt, optionally with an image, to a reasoning
// or vision model. Each Invoke is exactly one request; retrying is the
// caller's decision. Implementations must be safe for concurrent use.
type ModelClient interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
}

// chatClient implements ModelClient against an OpenAI-compatible
// chat-completions API, either Azure deployments or the OpenAI URL layout.
type chatClient struct {
	cfg      LLMConfig
	http     *http.Client
	observer Observer
}

// NewChatClient creates a ModelClient for the configured provider.
func NewChatClient(cfg LLMConfig, observer Observer) ModelClient {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &chatClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: 16,
			},
		},
		observer: observer,
	}
}

type chatRequest struct {
	Model               string          `json:"model,omitempty"`
	Messages            []chatMessage   `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int `json:"prompt_tokens"`
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

func (c *chatClient) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	start := time.Now()
	taskCfg := c.cfg.Tasks[req.Task]

	effort := taskCfg.Effort
	if req.Effort != "" {
		effort = req.Effort
	}
	maxTok := taskCfg.MaxTokens
	if req.MaxTokens != nil {
		maxTok = *req.MaxTokens
	}

	event := CallEvent{Task: req.Task, Deployment: taskCfg.Deployment, Effort: effort}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TaskTimeout(req.Task))*time.Millisecond)
	defer cancel()

	resp, err := c.doRequest(callCtx, taskCfg.Deployment, c.buildRequest(req, taskCfg.Deployment, effort, maxTok))
	event.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		// The caller abandoned the run; report cancellation, not a provider fault.
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if callCtx.Err() != nil {
			err = &InvocationError{Kind: KindTransport, Err: ErrTimeout}
		}
		if kind, ok := KindOf(err); ok {
			event.ErrorKind = kind
		} else {
			event.ErrorKind = "canceled"
		}
		c.observer.OnCallComplete(event)
		return nil, err
	}

	out := &InvokeResponse{
		Model:     resp.Model,
		LatencyMs: event.LatencyMs,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			ReasoningTokens:  resp.Usage.CompletionTokensDetails.ReasoningTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	if out.Model == "" {
		out.Model = taskCfg.Deployment
	}

	event.Success = true
	event.Usage = out.Usage
	c.observer.OnCallComplete(event)
	return out, nil
}

func (c *chatClient) buildRequest(req InvokeRequest, deployment string, effort ReasoningEffort, maxTok int) chatRequest {
	body := chatRequest{
		MaxCompletionTokens: maxTok,
		ReasoningEffort:     string(effort),
	}
	if c.cfg.Provider == ProviderOpenAI {
		body.Model = deployment
	}
	if req.Format == FormatJSON {
		body.ResponseFormat = &responseFormat{Type: string(FormatJSON)}
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}

	if req.Image == nil {
		body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
		return body
	}
	mime := req.Image.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Image.Data)
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: []contentPart{
		{Type: "text", Text: req.UserPrompt},
		{Type: "image_url", ImageURL: &imageURL{
			URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data),
			Detail: "high",
		}},
	}})
	return body
}

func (c *chatClient) endpointURL(deployment string) string {
	base := c.cfg.BaseURL()
	if c.cfg.Provider == ProviderOpenAI {
		return base + "/v1/chat/completions"
	}
	return base + "/openai/deployments/" + url.PathEscape(deployment) +
		"/chat/completions?api-version=" + url.QueryEscape(c.cfg.APIVersion)
}

func (c *chatClient) doRequest(ctx context.Context, deployment string, body chatRequest) (*chatResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(deployment), bytes.NewReader(data))
	if err != nil {
		return nil, &InvocationError{Kind: KindRejected, Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Provider == ProviderOpenAI {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else {
		httpReq.Header.Set("api-key", c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: errors.Unwrap(err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if len(respBody) > maxResponseBytes {
		return nil, &InvocationError{Kind: KindTransport, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", maxResponseBytes)}
	}

	if ie := classifyStatus(httpResp); ie != nil {
		return nil, ie
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &InvocationError{Kind: KindTransport, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &resp, nil
}

// classifyStatus maps a non-2xx response onto an InvocationError.
func classifyStatus(resp *http.Response) *InvocationError {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &InvocationError{Kind: KindAuth, StatusCode: code}
	case code == http.StatusTooManyRequests:
		return &InvocationError{Kind: KindRateLimited, StatusCode: code, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case code == http.StatusRequestTimeout || code >= 500:
		return &InvocationError{Kind: KindTransport, StatusCode: code}
	default:
		return &InvocationError{Kind: KindRejected, StatusCode: code}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
