package exl2

import "log/slog"

// --- Client Options ---

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger    *slog.Logger
	onSend    func(*Request)
	onReceive func(*Response)
	dial      *DialOptions
}

func newClientConfig(opts []ClientOption) clientConfig {
	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets a structured logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithOnSend sets a callback invoked before each request is sent.
// The request id is already assigned when the callback runs.
func WithOnSend(fn func(*Request)) ClientOption {
	return func(c *clientConfig) {
		c.onSend = fn
	}
}

// WithOnReceive sets a callback invoked for each decoded response, before it
// is routed. It runs on the read loop and must not block.
func WithOnReceive(fn func(*Response)) ClientOption {
	return func(c *clientConfig) {
		c.onReceive = fn
	}
}

// WithDialOptions sets the options Connect dials with.
func WithDialOptions(opts *DialOptions) ClientOption {
	return func(c *clientConfig) {
		c.dial = opts
	}
}

// --- Infer Options ---

// InferOption configures an infer request.
type InferOption func(*InferParams)

// WithParams replaces all generation parameters with p.
func WithParams(p InferParams) InferOption {
	return func(c *InferParams) {
		*c = p
	}
}

// WithMaxNewTokens sets the maximum number of tokens to generate.
func WithMaxNewTokens(n int) InferOption {
	return func(c *InferParams) {
		c.MaxNewTokens = n
	}
}

// WithStreamFull asks the server to send the accumulated text with every
// streamed chunk.
func WithStreamFull() InferOption {
	return func(c *InferParams) {
		c.StreamFull = true
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) InferOption {
	return func(c *InferParams) {
		c.Temperature = t
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(p float64) InferOption {
	return func(c *InferParams) {
		c.TopP = p
	}
}

// WithTopK sets the top-k sampling parameter.
func WithTopK(k int) InferOption {
	return func(c *InferParams) {
		c.TopK = k
	}
}

// WithTopA sets the top-a sampling parameter.
func WithTopA(a float64) InferOption {
	return func(c *InferParams) {
		c.TopA = a
	}
}

// WithMinP sets the min-p sampling parameter.
func WithMinP(p float64) InferOption {
	return func(c *InferParams) {
		c.MinP = p
	}
}

// WithTypical sets the locally typical sampling parameter.
func WithTypical(t float64) InferOption {
	return func(c *InferParams) {
		c.Typical = t
	}
}

// WithRepetitionPenalty sets the repetition penalty.
func WithRepetitionPenalty(p float64) InferOption {
	return func(c *InferParams) {
		c.RepetitionPenalty = p
	}
}

// WithFrequencyPenalty sets the frequency penalty.
func WithFrequencyPenalty(p float64) InferOption {
	return func(c *InferParams) {
		c.FrequencyPenalty = p
	}
}

// WithPresencePenalty sets the presence penalty.
func WithPresencePenalty(p float64) InferOption {
	return func(c *InferParams) {
		c.PresencePenalty = p
	}
}

// WithSkewFactor sets the skew factor.
func WithSkewFactor(s float64) InferOption {
	return func(c *InferParams) {
		c.SkewFactor = s
	}
}

// WithCustomBos overrides the beginning-of-sequence text.
func WithCustomBos(bos string) InferOption {
	return func(c *InferParams) {
		c.CustomBos = bos
	}
}

// WithStopConditions sets strings or tokens that will stop generation.
func WithStopConditions(stops ...string) InferOption {
	return func(c *InferParams) {
		c.StopConditions = stops
	}
}

// WithTokenHealing enables token healing.
func WithTokenHealing() InferOption {
	return func(c *InferParams) {
		c.TokenHealing = true
	}
}

// WithTag attaches an opaque tag the server echoes back.
func WithTag(tag string) InferOption {
	return func(c *InferParams) {
		c.Tag = tag
	}
}

// WithExplicitParams sends every parameter even when it equals the default.
func WithExplicitParams() InferOption {
	return func(c *InferParams) {
		c.Explicit = true
	}
}

func buildInferParams(opts []InferOption) InferParams {
	p := DefaultInferParams()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
