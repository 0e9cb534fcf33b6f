package usage

import "encoding/json"

// Usage is the token cost reported by an upstream response.
type Usage struct {
	Prompt     int64
	Completion int64
	Total      int64
}

// extractor is one strategy for pulling usage out of a response body.
// Providers report usage under different field names; strategies are tried
// in order and the first success wins.
type extractor func(raw map[string]json.RawMessage) (Usage, bool)

var extractors = []extractor{
	extractOpenAI,
	extractAnthropic,
	extractGemini,
	extractNested,
}

// Extract parses a response body and returns the usage it reports.
// Missing or unparseable usage yields (zero, false), never an error: a
// response we cannot meter is treated as free rather than failed.
func Extract(data []byte) (Usage, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Usage{}, false
	}

	for _, extract := range extractors {
		if u, ok := extract(raw); ok {
			return u, true
		}
	}
	return Usage{}, false
}

// extractOpenAI reads the OpenAI-style usage object. A missing total falls
// back to prompt + completion.
func extractOpenAI(raw map[string]json.RawMessage) (Usage, bool) {
	payload, ok := raw["usage"]
	if !ok {
		return Usage{}, false
	}

	var u struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	}
	if err := json.Unmarshal(payload, &u); err != nil {
		return Usage{}, false
	}

	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	if total == 0 {
		return Usage{}, false
	}

	return Usage{Prompt: u.PromptTokens, Completion: u.CompletionTokens, Total: total}, true
}

// extractAnthropic reads the Anthropic-style usage object with
// input_tokens/output_tokens.
func extractAnthropic(raw map[string]json.RawMessage) (Usage, bool) {
	payload, ok := raw["usage"]
	if !ok {
		return Usage{}, false
	}

	var u struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	}
	if err := json.Unmarshal(payload, &u); err != nil {
		return Usage{}, false
	}

	total := u.InputTokens + u.OutputTokens
	if total == 0 {
		return Usage{}, false
	}

	return Usage{Prompt: u.InputTokens, Completion: u.OutputTokens, Total: total}, true
}

// extractNested is the last-resort fallback for providers that tuck the
// usage object inside the first choice, its message, or a top-level message
// instead of the response root.
func extractNested(raw map[string]json.RawMessage) (Usage, bool) {
	for _, payload := range nestedUsagePayloads(raw) {
		inner := map[string]json.RawMessage{"usage": payload}
		if u, ok := extractOpenAI(inner); ok {
			return u, true
		}
		if u, ok := extractAnthropic(inner); ok {
			return u, true
		}
	}
	return Usage{}, false
}

func nestedUsagePayloads(raw map[string]json.RawMessage) []json.RawMessage {
	var payloads []json.RawMessage

	if data, ok := raw["choices"]; ok {
		var choices []struct {
			Usage   json.RawMessage `json:"usage"`
			Message struct {
				Usage json.RawMessage `json:"usage"`
			} `json:"message"`
		}
		if json.Unmarshal(data, &choices) == nil {
			for _, choice := range choices {
				if len(choice.Usage) > 0 {
					payloads = append(payloads, choice.Usage)
				}
				if len(choice.Message.Usage) > 0 {
					payloads = append(payloads, choice.Message.Usage)
				}
			}
		}
	}

	if data, ok := raw["message"]; ok {
		var message struct {
			Usage json.RawMessage `json:"usage"`
		}
		if json.Unmarshal(data, &message) == nil && len(message.Usage) > 0 {
			payloads = append(payloads, message.Usage)
		}
	}

	return payloads
}

// extractGemini reads the Gemini-style usageMetadata object.
func extractGemini(raw map[string]json.RawMessage) (Usage, bool) {
	payload, ok := raw["usageMetadata"]
	if !ok {
		return Usage{}, false
	}

	var u struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	}
	if err := json.Unmarshal(payload, &u); err != nil {
		return Usage{}, false
	}

	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	if total == 0 {
		return Usage{}, false
	}

	return Usage{Prompt: u.PromptTokenCount, Completion: u.CandidatesTokenCount, Total: total}, true
}
