package probe

import (
	"strings"
	"testing"

	"probewatch/internal/model"
)

func TestEndpointKindFor(t *testing.T) {
	cases := []struct {
		name string
		want model.EndpointKind
	}{
		{"claude-3-opus", model.EndpointClaude},
		{"Claude-3.5-Sonnet", model.EndpointClaude},
		{"gemini-1.5-pro", model.EndpointGemini},
		{"gpt-5.1-codex", model.EndpointCodex},
		{"gpt-5.2-codex-mini", model.EndpointCodex},
		{"dall-e-3", model.EndpointImage},
		{"stable-diffusion-xl", model.EndpointImage},
		{"gpt-4o", model.EndpointChat},
		{"gpt-5.3-codex", model.EndpointChat}, // only 5.1/5.2 match the codex pattern
	}
	for _, tc := range cases {
		if got := EndpointKindFor(tc.name); got != tc.want {
			t.Errorf("EndpointKindFor(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEndpointsToProbe(t *testing.T) {
	if got := EndpointsToProbe("gpt-4o", false); len(got) != 1 || got[0] != model.EndpointChat {
		t.Errorf("expected single chat probe without secondary flag, got %v", got)
	}
	if got := EndpointsToProbe("gpt-4o", true); len(got) != 1 || got[0] != model.EndpointChat {
		t.Errorf("native chat model with secondary enabled should not duplicate chat, got %v", got)
	}
	got := EndpointsToProbe("claude-3-opus", true)
	if len(got) != 2 || got[0] != model.EndpointClaude || got[1] != model.EndpointChat {
		t.Errorf("expected [claude chat] with secondary probe enabled, got %v", got)
	}
}

func TestBuildProbe_PerKindShape(t *testing.T) {
	cases := []struct {
		kind       model.EndpointKind
		wantMethod string
		wantSuffix string
	}{
		{model.EndpointChat, "POST", "/v1/chat/completions"},
		{model.EndpointClaude, "POST", "/v1/messages"},
		{model.EndpointCodex, "POST", "/v1/responses"},
		{model.EndpointImage, "POST", "/v1/images/generations"},
	}
	for _, tc := range cases {
		req, err := BuildProbe("http://upstream", "sk-test", "some-model", tc.kind)
		if err != nil {
			t.Fatalf("BuildProbe(%v): %v", tc.kind, err)
		}
		if req.Method != tc.wantMethod {
			t.Errorf("%v: method = %q, want %q", tc.kind, req.Method, tc.wantMethod)
		}
		if !strings.HasSuffix(req.URL, tc.wantSuffix) {
			t.Errorf("%v: url = %q, want suffix %q", tc.kind, req.URL, tc.wantSuffix)
		}
		if len(req.Body) == 0 {
			t.Errorf("%v: expected a non-empty body", tc.kind)
		}
	}
}

func TestBuildProbe_GeminiEmbedsModelNameInURL(t *testing.T) {
	req, err := BuildProbe("http://upstream", "sk-test", "gemini-1.5-pro", model.EndpointGemini)
	if err != nil {
		t.Fatalf("BuildProbe: %v", err)
	}
	want := "http://upstream/v1beta/models/gemini-1.5-pro:generateContent"
	if req.URL != want {
		t.Errorf("url = %q, want %q", req.URL, want)
	}
}

func TestBuildProbe_UnknownKindErrors(t *testing.T) {
	if _, err := BuildProbe("http://upstream", "sk", "m", model.EndpointKind("bogus")); err == nil {
		t.Fatal("expected an error for an unrecognized endpoint kind")
	}
}

func TestParseOutcome_NonSuccessStatusIsFail(t *testing.T) {
	status, _ := ParseOutcome(model.EndpointChat, 500, []byte(`{}`))
	if status != model.ProbeStatusFail {
		t.Errorf("expected fail for a 500 status, got %v", status)
	}
}

func TestParseOutcome_InvalidBodyIsFail(t *testing.T) {
	status, msg := ParseOutcome(model.EndpointChat, 200, []byte(`not json`))
	if status != model.ProbeStatusFail || msg == "" {
		t.Errorf("expected fail with a message for invalid JSON, got status=%v msg=%q", status, msg)
	}
}

func TestParseOutcome_ChatSuccessRequiresMessageContent(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"hello"}}]}`)
	status, _ := ParseOutcome(model.EndpointChat, 200, body)
	if status != model.ProbeStatusSuccess {
		t.Errorf("expected success when choices[0].message.content is non-empty, got %v", status)
	}

	empty := []byte(`{"choices":[{"message":{"content":""}}]}`)
	status, _ = ParseOutcome(model.EndpointChat, 200, empty)
	if status != model.ProbeStatusFail {
		t.Errorf("expected fail when message content is empty, got %v", status)
	}
}

func TestParseOutcome_ClaudeSuccess(t *testing.T) {
	body := []byte(`{"content":[{"text":"hi there"}]}`)
	status, _ := ParseOutcome(model.EndpointClaude, 200, body)
	if status != model.ProbeStatusSuccess {
		t.Errorf("expected success for claude content[0].text, got %v", status)
	}
}

func TestParseOutcome_GeminiSuccess(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	status, _ := ParseOutcome(model.EndpointGemini, 200, body)
	if status != model.ProbeStatusSuccess {
		t.Errorf("expected success for gemini candidates path, got %v", status)
	}
}

func TestParseOutcome_ImageSuccessAcceptsEitherURLOrB64(t *testing.T) {
	body := []byte(`{"data":[{"b64_json":"Zm9v"}]}`)
	status, _ := ParseOutcome(model.EndpointImage, 200, body)
	if status != model.ProbeStatusSuccess {
		t.Errorf("expected success for image b64_json, got %v", status)
	}
}
