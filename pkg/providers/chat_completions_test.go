package providers

import "testing"

func TestParseResponse_TextContent(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`)
	resp, err := parseChatCompletionsResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("content: %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 13 {
		t.Fatalf("usage lost: %+v", resp.Usage)
	}
}

func TestParseResponse_ToolCall(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup_user","arguments":"{\"userId\":\"42\"}"}}]},"finish_reason":"tool_calls"}]}`)
	resp, err := parseChatCompletionsResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "lookup_user" {
		t.Fatalf("tool call fields lost: %+v", tc)
	}
	if tc.Function.Arguments != `{"userId":"42"}` {
		t.Fatalf("arguments mangled: %q", tc.Function.Arguments)
	}
}

func TestParseResponse_ReasoningOnly(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"","reasoning":"let me think about this"},"finish_reason":"stop"}]}`)
	resp, err := parseChatCompletionsResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "" || resp.Reasoning != "let me think about this" {
		t.Fatalf("reasoning lost: %+v", resp)
	}
}

func TestParseResponse_MultiPartContent(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]},"finish_reason":"stop"}]}`)
	resp, err := parseChatCompletionsResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "part one part two" {
		t.Fatalf("multi-part content not flattened: %q", resp.Content)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp, err := parseChatCompletionsResponse([]byte(`{"choices":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}
}

func TestExtractAPIError(t *testing.T) {
	if got := extractAPIError([]byte(`{"error":{"message":"rate limited"}}`)); got != "rate limited" {
		t.Fatalf("structured error lost: %q", got)
	}
	if got := extractAPIError([]byte(``)); got != "empty response body" {
		t.Fatalf("empty body: %q", got)
	}
	if got := extractAPIError([]byte(`plain text failure`)); got != "plain text failure" {
		t.Fatalf("plain body lost: %q", got)
	}
}
