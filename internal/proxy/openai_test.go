package proxy

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/switchboard/internal/types"
)

const chatStreamFixture = `data: {"id":"resp_cs1","object":"response.chunk","output":[{"type":"text","text":"Hel"}]}

data: {"id":"resp_cs1","object":"response.chunk","output":[{"type":"text","text":"lo"}]}

data: {"id":"resp_cs1","object":"response.chunk","output":[{"type":"reasoning","status":"completed"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}

data: [DONE]
`

func TestChatCompletionsStreaming(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueSSE(chatStreamFixture)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5-codex","stream":true,"messages":[{"role":"user","content":"Hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 5)
	require.Equal(t, "[DONE]", events[4].data)

	var chunks []types.ChatCompletionChunk
	for _, ev := range events[:4] {
		var chunk types.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		assert.Equal(t, "resp_cs1", chunk.ID)
		assert.Equal(t, "gpt-5-codex", chunk.Model)
		require.Len(t, chunk.Choices, 1)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hel", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "lo", chunks[2].Choices[0].Delta.Content)

	final := chunks[3].Choices[0]
	require.NotNil(t, final.FinishReason)
	assert.Equal(t, "stop", *final.FinishReason)

	// Usage stays out of the stream unless the client opted in.
	for _, chunk := range chunks {
		assert.Nil(t, chunk.Usage)
	}
}

func TestChatCompletionsStreamingIncludeUsage(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueSSE(chatStreamFixture)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5-codex","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"Hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 6)
	require.Equal(t, "[DONE]", events[5].data)

	var usageChunk types.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(events[4].data), &usageChunk))
	require.NotNil(t, usageChunk.Usage)
	assert.Equal(t, 3, usageChunk.Usage.PromptTokens)
	assert.Equal(t, 2, usageChunk.Usage.CompletionTokens)
	assert.Equal(t, 5, usageChunk.Usage.TotalTokens)
}

func TestChatCompletionsStreamingUpstreamError(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueSSE(`data: {"id":"resp_ce1","object":"response.chunk","output":[{"type":"text","text":"so far"}]}

data: {"id":"resp_ce1","object":"response.chunk","output":[],"error":{"type":"server_error","message":"backend fell over"}}
`)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5-codex","stream":true,"messages":[{"role":"user","content":"Hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	// Terminal frame is the error payload; no [DONE] follows it.
	last := events[len(events)-1]
	assert.NotEqual(t, "[DONE]", last.data)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(last.data), &errResp))
	assert.Equal(t, "api_error", errResp.Error.Type)
	assert.Contains(t, errResp.Error.Message, "backend fell over")
}

func TestChatStreamRequestDowngradesWhenUpstreamAnswersJSON(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueJSON(`{"id":"r8","object":"response","output":[{"type":"text","text":"plain"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5-codex","stream":true,"messages":[{"role":"user","content":"Hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "plain", resp.Choices[0].Message.Content)
}

func TestLegacyCompletionsPromptFold(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueJSON(`{"id":"r2","object":"response","output":[{"type":"text","text":"Hi there"}],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/completions",
		`{"model":"gpt-5-codex","prompt":"Say hi","max_tokens":5}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sent := fake.payload(0)
	require.NotNil(t, sent)
	require.Len(t, sent.Input, 1)
	assert.Equal(t, "user", sent.Input[0].Role)
	assert.Equal(t, "Say hi", sent.Input[0].Content)
	require.NotNil(t, sent.MaxOutputTokens)
	assert.Equal(t, 5, *sent.MaxOutputTokens)

	var resp types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi there", resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 2, resp.Usage.PromptTokens)
}

func TestChatUnaryResponseShape(t *testing.T) {
	fake := &fakeUpstream{}
	fake.enqueueJSON(`{"id":"r3","object":"response","output":[{"type":"text","text":"answer"}],"stop_reason":"length","usage":{"prompt_tokens":4,"completion_tokens":8,"total_tokens":12}}`)
	s := newTestServer(t, fake)

	w := doRequest(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5-codex","messages":[{"role":"user","content":"Hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r3", resp.ID)
	assert.Equal(t, "gpt-5-codex", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "answer", resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Choices[0].FinishReason)
	assert.Equal(t, "length", *resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.NotZero(t, resp.Created)
}
