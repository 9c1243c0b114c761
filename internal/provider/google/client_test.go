package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

func TestConvertRequest(t *testing.T) {
	t.Run("system 消息进 systemInstruction", func(t *testing.T) {
		req := convertRequest(&llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "Du bist hilfreich."},
				{Role: "user", Content: "Hallo"},
				{Role: "assistant", Content: "Guten Tag"},
			},
			Temperature: 0.5,
			MaxTokens:   128,
		})

		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "Du bist hilfreich.", req.SystemInstruction.Parts[0].Text)

		require.Len(t, req.Contents, 2)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "model", req.Contents[1].Role)

		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, 0.5, req.GenerationConfig.Temperature)
		assert.Equal(t, 128, req.GenerationConfig.MaxOutputTokens)
	})

	t.Run("内联图片转 inlineData", func(t *testing.T) {
		req := convertRequest(&llm.ChatRequest{
			Messages: []llm.Message{{
				Role: "user",
				Parts: []llm.ContentPart{
					{Type: llm.ContentTypeText, Text: "Was zeigt das Bild?"},
					{Type: llm.ContentTypeImageURL, ImageURL: "data:image/png;base64,aW1n"},
				},
			}},
		})

		require.Len(t, req.Contents, 1)
		parts := req.Contents[0].Parts
		require.Len(t, parts, 2)
		assert.Equal(t, "Was zeigt das Bild?", parts[0].Text)
		require.NotNil(t, parts[1].InlineData)
		assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
		assert.Equal(t, "aW1n", parts[1].InlineData.Data)
	})

	t.Run("外链图片转 fileData", func(t *testing.T) {
		req := convertRequest(&llm.ChatRequest{
			Messages: []llm.Message{{
				Role: "user",
				Parts: []llm.ContentPart{
					{Type: llm.ContentTypeImageURL, ImageURL: "https://example.com/bild.png"},
				},
			}},
		})

		parts := req.Contents[0].Parts
		require.Len(t, parts, 1)
		require.NotNil(t, parts[0].FileData)
		assert.Equal(t, "https://example.com/bild.png", parts[0].FileData.FileURI)
	})
}

func TestParseDataURL(t *testing.T) {
	t.Run("合法 data URL", func(t *testing.T) {
		mimeType, data, ok := parseDataURL("data:image/jpeg;base64,aW1hZ2U=")
		require.True(t, ok)
		assert.Equal(t, "image/jpeg", mimeType)
		assert.Equal(t, "aW1hZ2U=", data)
	})

	t.Run("非 data 前缀", func(t *testing.T) {
		_, _, ok := parseDataURL("https://example.com/bild.png")
		assert.False(t, ok)
	})

	t.Run("缺少 base64 标记", func(t *testing.T) {
		_, _, ok := parseDataURL("data:image/png,rawdata")
		assert.False(t, ok)
	})

	t.Run("非法 base64 内容", func(t *testing.T) {
		_, _, ok := parseDataURL("data:image/png;base64,!!!")
		assert.False(t, ok)
	})
}
