// Package probe builds and parses the per-EndpointKind requests that
// determine whether an upstream model is reachable and responding.
package probe

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"probewatch/internal/model"
)

var codexModelPattern = regexp.MustCompile(`^gpt-5\.(1|2)(\b|-)`)

// EndpointKindFor maps a model name to its probe surface by
// case-insensitive substring rules, evaluated in order.
func EndpointKindFor(modelName string) model.EndpointKind {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return model.EndpointClaude
	case strings.Contains(lower, "gemini"):
		return model.EndpointGemini
	case codexModelPattern.MatchString(lower):
		return model.EndpointCodex
	case containsAny(lower, "image", "dall-e", "imagen", "flux", "stable-diffusion", "midjourney"):
		return model.EndpointImage
	default:
		return model.EndpointChat
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// EndpointsToProbe returns the ordered, deduplicated set of kinds to
// probe for a model name: its native kind, plus `chat` as a secondary
// CLI-compatibility probe when configured and the native kind isn't
// already chat. secondaryChatProbe is configuration-driven; the
// scheduler default is false (single kind only).
func EndpointsToProbe(modelName string, secondaryChatProbe bool) []model.EndpointKind {
	native := EndpointKindFor(modelName)
	if !secondaryChatProbe || native == model.EndpointChat {
		return []model.EndpointKind{native}
	}
	return []model.EndpointKind{native, model.EndpointChat}
}

// BuiltRequest is everything the executor needs to issue the HTTP call;
// strategies never perform I/O themselves.
type BuiltRequest struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// BuildProbe produces the request sketch for one (baseUrl, apiKey,
// modelName, kind) per the per-kind table: path, auth header, body.
func BuildProbe(baseURL, apiKey, modelName string, kind model.EndpointKind) (*BuiltRequest, error) {
	baseURL = model.NormalizeBaseURL(baseURL)

	switch kind {
	case model.EndpointChat:
		body, err := sonic.Marshal(map[string]any{
			"model":      modelName,
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
			"max_tokens": 1,
			"stream":     false,
		})
		if err != nil {
			return nil, err
		}
		return &BuiltRequest{
			Method: "POST",
			URL:    baseURL + "/v1/chat/completions",
			Header: map[string]string{"Authorization": "Bearer " + apiKey, "Content-Type": "application/json"},
			Body:   body,
		}, nil

	case model.EndpointClaude:
		body, err := sonic.Marshal(map[string]any{
			"model":      modelName,
			"max_tokens": 1,
			"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		})
		if err != nil {
			return nil, err
		}
		return &BuiltRequest{
			Method: "POST",
			URL:    baseURL + "/v1/messages",
			Header: map[string]string{"x-api-key": apiKey, "anthropic-version": "2023-06-01", "Content-Type": "application/json"},
			Body:   body,
		}, nil

	case model.EndpointGemini:
		body, err := sonic.Marshal(map[string]any{
			"contents": []map[string]any{{"parts": []map[string]string{{"text": "hi"}}}},
		})
		if err != nil {
			return nil, err
		}
		return &BuiltRequest{
			Method: "POST",
			URL:    fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, modelName),
			Header: map[string]string{"x-goog-api-key": apiKey, "Content-Type": "application/json"},
			Body:   body,
		}, nil

	case model.EndpointCodex:
		body, err := sonic.Marshal(map[string]any{"model": modelName, "input": "hi"})
		if err != nil {
			return nil, err
		}
		return &BuiltRequest{
			Method: "POST",
			URL:    baseURL + "/v1/responses",
			Header: map[string]string{"Authorization": "Bearer " + apiKey, "Content-Type": "application/json"},
			Body:   body,
		}, nil

	case model.EndpointImage:
		body, err := sonic.Marshal(map[string]any{
			"model": modelName, "prompt": "a cat", "n": 1, "size": "256x256",
		})
		if err != nil {
			return nil, err
		}
		return &BuiltRequest{
			Method: "POST",
			URL:    baseURL + "/v1/images/generations",
			Header: map[string]string{"Authorization": "Bearer " + apiKey, "Content-Type": "application/json"},
			Body:   body,
		}, nil

	default:
		return nil, fmt.Errorf("unknown endpoint kind: %s", kind)
	}
}

// ParseOutcome decides success/fail from the HTTP status and decoded
// body: 2xx plus a non-empty kind-specific field is success. A 2xx
// without that field (including non-JSON bodies) is fail with the fixed
// message "empty/invalid response"; a non-2xx status is fail with an
// empty message, which the executor fills from the response body.
func ParseOutcome(kind model.EndpointKind, httpStatus int, responseBody []byte) (model.ProbeStatus, string) {
	if httpStatus < 200 || httpStatus >= 300 {
		return model.ProbeStatusFail, ""
	}

	var decoded map[string]any
	if err := sonic.Unmarshal(responseBody, &decoded); err != nil {
		return model.ProbeStatusFail, "empty/invalid response"
	}

	if !hasContent(kind, decoded) {
		return model.ProbeStatusFail, "empty/invalid response"
	}
	return model.ProbeStatusSuccess, ""
}

func hasContent(kind model.EndpointKind, decoded map[string]any) bool {
	switch kind {
	case model.EndpointClaude:
		return nonEmptyString(dig(decoded, "content", 0, "text"))
	case model.EndpointGemini:
		return nonEmptyString(dig(decoded, "candidates", 0, "content", "parts", 0, "text"))
	case model.EndpointImage:
		url := dig(decoded, "data", 0, "url")
		b64 := dig(decoded, "data", 0, "b64_json")
		return nonEmptyString(url) || nonEmptyString(b64)
	default: // chat, codex
		return nonEmptyString(dig(decoded, "choices", 0, "message", "content"))
	}
}

// dig walks a decoded JSON value through a mixed path of object keys
// (string) and array indices (int), returning nil on any mismatch.
func dig(v any, path ...any) any {
	cur := v
	for _, seg := range path {
		switch key := seg.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[key]
		case int:
			arr, ok := cur.([]any)
			if !ok || key >= len(arr) {
				return nil
			}
			cur = arr[key]
		}
	}
	return cur
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}
