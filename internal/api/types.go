package api

import (
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type MessagesResponse struct {
	Messages   []chat.Message `json:"messages"`
	Generating bool           `json:"generating"`
}

type ExampleMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SamplingParams are the per-request sampler overrides shared by every
// generating endpoint.
type SamplingParams struct {
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MinP          *float64 `json:"min_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN   *int     `json:"repeat_last_n,omitempty"`
}

func (p SamplingParams) options(prompt string) inference.RequestOptions {
	return inference.RequestOptions{
		Prompt:        prompt,
		MaxTokens:     p.MaxTokens,
		Seed:          p.Seed,
		Temperature:   p.Temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		MinP:          p.MinP,
		RepeatPenalty: p.RepeatPenalty,
		RepeatLastN:   p.RepeatLastN,
	}
}

type TurnRequest struct {
	Text          string           `json:"text"`
	Instruction   *string          `json:"instruction,omitempty"`
	Examples      []ExampleMessage `json:"examples,omitempty"`
	UserPrefix    *string          `json:"user_prefix,omitempty"`
	AIPrefix      *string          `json:"ai_prefix,omitempty"`
	ReversePrompt *string          `json:"reverse_prompt,omitempty"`
	Stream        *bool            `json:"stream,omitempty"`
	SamplingParams
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

func usageOf(s inference.Stats) Usage {
	return Usage{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.TokensGenerated,
		TotalTokens:      s.PromptTokens + s.TokensGenerated,
		TokensPerSecond:  s.TPS,
	}
}

type TurnResponse struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Messages   []chat.Message `json:"messages"`
	Generating bool           `json:"generating"`
	Usage      Usage          `json:"usage"`
}

// ChatUpdate is one SSE event of a streamed turn.
type ChatUpdate struct {
	Type       string         `json:"type"`
	Messages   []chat.Message `json:"messages"`
	Generating bool           `json:"generating"`
	State      string         `json:"state,omitempty"`
}

type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Grammar     *string `json:"grammar,omitempty"`
	GrammarName *string `json:"grammar_name,omitempty"`
	Stream      *bool   `json:"stream,omitempty"`
	SamplingParams
}

type CompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Text    string `json:"text"`
	State   string `json:"state"`
	Usage   Usage  `json:"usage"`
}

type CompletionChunk struct {
	ID     string `json:"id"`
	Object string `json:"object"`
	Text   string `json:"text"`
	State  string `json:"state,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
}

type ConstrainedRequest struct {
	Prompt      string  `json:"prompt"`
	Grammar     *string `json:"grammar,omitempty"`
	GrammarName *string `json:"grammar_name,omitempty"`
}

type ConstrainedResponse struct {
	Text string `json:"text"`
}

type VehicleRequest struct {
	Request string `json:"request"`
}

type EmotionRequest struct {
	Review string `json:"review"`
}

type GrammarListResponse struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}
