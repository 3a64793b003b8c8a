package exl2

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Action identifies the kind of call carried by a frame.
type Action string

const (
	ActionEcho          Action = "echo"
	ActionEstimateToken Action = "estimate_token"
	ActionLeftTrimToken Action = "lefttrim_token"
	ActionStop          Action = "stop"
	ActionInfer         Action = "infer"
)

// ResponseType distinguishes intermediate chunks from the final reply of a
// streamed infer call.
type ResponseType string

const (
	ResponseChunk ResponseType = "chunk"
	ResponseFull  ResponseType = "full"
)

// --- Requests (Client -> Server) ---

// Request is a frame sent to the server. RequestID is assigned by the
// [Client] immediately before the frame is written; any value set by the
// caller is overwritten.
type Request struct {
	Action    Action `json:"action"`
	RequestID uint64 `json:"request_id"`

	Text          *string `json:"text,omitempty"`
	TrimmedLength *int    `json:"trimmed_length,omitempty"`

	// infer fields
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty"`
	Stream            *bool    `json:"stream,omitempty"`
	StreamFull        *bool    `json:"stream_full,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopA              *float64 `json:"top_a,omitempty"`
	MinP              *float64 `json:"min_p,omitempty"`
	Typical           *float64 `json:"typical,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	RepetitionPenalty *float64 `json:"rep_pen,omitempty"`
	FrequencyPenalty  *float64 `json:"freq_pen,omitempty"`
	PresencePenalty   *float64 `json:"pres_pen,omitempty"`
	SkewFactor        *float64 `json:"skew,omitempty"`
	CustomBos         *string  `json:"customBos,omitempty"`
	StopConditions    []string `json:"stop_conditions,omitempty"`
	TokenHealing      *bool    `json:"token_healing,omitempty"`
	Tag               *string  `json:"tag,omitempty"`
}

// InferParams holds the generation parameters of an infer request.
type InferParams struct {
	MaxNewTokens      int
	StreamFull        bool
	TopP              float64
	TopK              int
	TopA              float64
	MinP              float64
	Typical           float64
	Temperature       float64
	RepetitionPenalty float64
	FrequencyPenalty  float64
	PresencePenalty   float64
	SkewFactor        float64
	CustomBos         string
	StopConditions    []string
	TokenHealing      bool
	Tag               string

	// Explicit sends every parameter, including those equal to their
	// default. By default they are left off the wire and the server
	// applies its own defaults.
	Explicit bool
}

// DefaultInferParams returns the parameters the server assumes for fields
// that are absent from an infer request.
func DefaultInferParams() InferParams {
	return InferParams{
		MaxNewTokens:      512,
		Temperature:       1.0,
		RepetitionPenalty: 1.0,
	}
}

// NewEchoRequest creates a liveness check request.
func NewEchoRequest() *Request {
	return &Request{Action: ActionEcho}
}

// NewEstimateTokenRequest creates a request for the token count of text.
func NewEstimateTokenRequest(text string) *Request {
	return &Request{Action: ActionEstimateToken, Text: &text}
}

// NewLeftTrimTokenRequest creates a request that trims text from the left
// until it is at most length tokens long.
func NewLeftTrimTokenRequest(text string, length int) *Request {
	return &Request{Action: ActionLeftTrimToken, Text: &text, TrimmedLength: &length}
}

// NewStopRequest creates a request that cancels the generation currently
// running on the server.
func NewStopRequest() *Request {
	return &Request{Action: ActionStop}
}

// NewInferRequest creates a text generation request. max_new_tokens and
// stream are always sent; the remaining parameters only when they differ
// from [DefaultInferParams] or p.Explicit is set.
func NewInferRequest(text string, stream bool, p InferParams) *Request {
	def := DefaultInferParams()
	all := p.Explicit

	req := &Request{
		Action:       ActionInfer,
		Text:         &text,
		MaxNewTokens: &p.MaxNewTokens,
		Stream:       &stream,
	}

	if all || p.StreamFull {
		req.StreamFull = &p.StreamFull
	}
	req.TopP = floatParam(p.TopP, def.TopP, all)
	if all || p.TopK != def.TopK {
		req.TopK = &p.TopK
	}
	req.TopA = floatParam(p.TopA, def.TopA, all)
	req.MinP = floatParam(p.MinP, def.MinP, all)
	req.Typical = floatParam(p.Typical, def.Typical, all)
	req.Temperature = floatParam(p.Temperature, def.Temperature, all)
	req.RepetitionPenalty = floatParam(p.RepetitionPenalty, def.RepetitionPenalty, all)
	req.FrequencyPenalty = floatParam(p.FrequencyPenalty, def.FrequencyPenalty, all)
	req.PresencePenalty = floatParam(p.PresencePenalty, def.PresencePenalty, all)
	req.SkewFactor = floatParam(p.SkewFactor, def.SkewFactor, all)
	if all || p.CustomBos != "" {
		req.CustomBos = &p.CustomBos
	}
	if len(p.StopConditions) > 0 {
		req.StopConditions = p.StopConditions
	}
	if all || p.TokenHealing {
		req.TokenHealing = &p.TokenHealing
	}
	if p.Tag != "" {
		req.Tag = &p.Tag
	}

	return req
}

func floatParam(v, def float64, all bool) *float64 {
	if !all && v == def {
		return nil
	}
	return &v
}

// --- Responses (Server -> Client) ---

// Response is a frame received from the server.
type Response struct {
	Action    Action          `json:"action"`
	RequestID uint64          `json:"request_id"`
	Error     json.RawMessage `json:"error,omitempty"`

	// infer fields
	ResponseType ResponseType `json:"response_type,omitempty"`
	Chunk        string       `json:"chunk"`
	Response     string       `json:"response,omitempty"`
	StopReason   string       `json:"stop_reason,omitempty"`
	UtilText     string       `json:"util_text,omitempty"`

	// estimate_token / lefttrim_token fields
	NumTokens   *int   `json:"num_tokens,omitempty"`
	TrimmedText string `json:"trimmed_text,omitempty"`

	// Raw is the frame exactly as it was received.
	Raw json.RawMessage `json:"-"`
}

// ParseResponse decodes a raw inbound frame.
//
// Only the routing envelope is strict: the frame must be a JSON object and
// request_id, when present, a non-negative integer. The remaining fields are
// payload and are decoded best effort; a field of an unexpected type is left
// at its zero value and is still available through Raw.
func ParseResponse(data []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: frame is not an object", ErrUnexpectedResponse)
	}

	resp := &Response{Raw: append(json.RawMessage(nil), data...)}

	if raw, ok := fields["request_id"]; ok {
		id, err := parseRequestID(raw)
		if err != nil {
			return nil, err
		}
		resp.RequestID = id
	}
	if raw, ok := fields["error"]; ok {
		resp.Error = raw
	}

	lenient(fields, "action", &resp.Action)
	lenient(fields, "response_type", &resp.ResponseType)
	lenient(fields, "chunk", &resp.Chunk)
	lenient(fields, "response", &resp.Response)
	lenient(fields, "stop_reason", &resp.StopReason)
	lenient(fields, "util_text", &resp.UtilText)
	lenient(fields, "trimmed_text", &resp.TrimmedText)

	var n json.Number
	if lenient(fields, "num_tokens", &n) {
		if v, err := n.Int64(); err == nil {
			count := int(v)
			resp.NumTokens = &count
		} else if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			count := int(f)
			resp.NumTokens = &count
		}
	}

	return resp, nil
}

// parseRequestID accepts any JSON number (or numeric string) with a
// non-negative integral value, so 1 and 1.0 both address request 1.
func parseRequestID(raw json.RawMessage) (uint64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: request_id %s", ErrUnexpectedResponse, raw)
	}
	if id, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return id, nil
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) || f > 1<<53 {
		return 0, fmt.Errorf("%w: request_id %s", ErrUnexpectedResponse, raw)
	}
	return uint64(f), nil
}

// lenient decodes fields[key] into dst and reports whether it succeeded.
func lenient(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// IsFinal reports whether this is the last frame of a streamed reply.
func (r *Response) IsFinal() bool {
	return r.ResponseType == ResponseFull
}

// IsChunk reports whether this is an intermediate frame of a streamed reply.
func (r *Response) IsChunk() bool {
	return r.ResponseType == ResponseChunk
}

// ErrorMessage returns the server error carried by the frame. Falsy values
// (null, false, 0, "") do not count as errors.
func (r *Response) ErrorMessage() (string, bool) {
	if len(r.Error) == 0 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(r.Error, &v); err != nil {
		return string(r.Error), true
	}
	switch e := v.(type) {
	case nil:
		return "", false
	case bool:
		if !e {
			return "", false
		}
	case float64:
		if e == 0 {
			return "", false
		}
	case string:
		if e == "" {
			return "", false
		}
		return e, true
	}
	return string(r.Error), true
}

// TokenCount returns the num_tokens field of an estimate_token reply.
func (r *Response) TokenCount() (int, error) {
	if r.NumTokens == nil {
		return 0, fmt.Errorf("%w: %s reply has no num_tokens", ErrUnexpectedResponse, r.Action)
	}
	return *r.NumTokens, nil
}
