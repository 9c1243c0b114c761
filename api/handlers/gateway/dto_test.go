package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

func TestMessageContent_Unmarshal(t *testing.T) {
	t.Run("纯文本内容", func(t *testing.T) {
		var msg ChatMessage
		require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"Hallo Welt"}`), &msg))
		assert.Equal(t, "Hallo Welt", msg.Content.Text)
		assert.Empty(t, msg.Content.Parts)
	})

	t.Run("多模态片段数组", func(t *testing.T) {
		raw := `{"role":"user","content":[
			{"type":"text","text":"Was zeigt das Bild?"},
			{"type":"image_url","image_url":{"url":"data:image/png;base64,aW1n"}}
		]}`
		var msg ChatMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))
		require.Len(t, msg.Content.Parts, 2)
		assert.Equal(t, "text", msg.Content.Parts[0].Type)
		assert.Equal(t, "Was zeigt das Bild?", msg.Content.Parts[0].Text)
		assert.Equal(t, "image_url", msg.Content.Parts[1].Type)
		assert.Equal(t, "data:image/png;base64,aW1n", msg.Content.Parts[1].ImageURL.URL)
	})

	t.Run("非法内容类型", func(t *testing.T) {
		var msg ChatMessage
		err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
		assert.Error(t, err)
	})
}

func TestChatCompletionRequest_ToUnified(t *testing.T) {
	req := &ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: "system", Content: MessageContent{Text: "Du bist hilfreich."}},
			{Role: "user", Content: MessageContent{Parts: []ChatMessagePart{
				{Type: "text", Text: "Hallo"},
			}}},
		},
		MaxTokens:   256,
		Temperature: 0.7,
	}

	unified := req.toUnified()
	require.Len(t, unified.Messages, 2)
	assert.Equal(t, "system", unified.Messages[0].Role)
	assert.Equal(t, "Du bist hilfreich.", unified.Messages[0].Content)
	require.Len(t, unified.Messages[1].Parts, 1)
	assert.Equal(t, llm.ContentTypeText, unified.Messages[1].Parts[0].Type)
	assert.Equal(t, 256, unified.MaxTokens)
}
