// Package tokenizer 提供基于 tiktoken 的 Token 数量估算
// 当上游流式响应不回报用量时，用估算值代替以保证计费不丢失
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

// encodingFor 获取模型对应的编码器，未识别的模型回退到 cl100k_base
func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return tkm, nil
}

// CountText 估算单段文本的 Token 数
func CountText(text, model string) (int, error) {
	tkm, err := encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(tkm.Encode(text, nil, nil)), nil
}

// CountMessages 估算消息列表的 Token 总数
// 简单估算：content tokens + role overhead，图文消息只计文本部分
func CountMessages(messages []llm.Message, model string) (int, error) {
	tkm, err := encodingFor(model)
	if err != nil {
		return 0, err
	}

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += len(tkm.Encode(msg.Content, nil, nil)) + 4
		for _, part := range msg.Parts {
			if part.Type == llm.ContentTypeText {
				totalTokens += len(tkm.Encode(part.Text, nil, nil))
			}
		}
	}
	return totalTokens, nil
}
