package anthropic

import (
	"github.com/tokligence/chatrelay/internal/upstream"
)

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
}

// message.Content is either a string or a []contentBlock, matching the two
// shapes the Messages API accepts.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

func buildPayload(req upstream.Request) messagesRequest {
	out := messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Stream:    true,
		Messages:  make([]message, 0, len(req.Messages)),
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096 // Anthropic requires max_tokens
	}
	for _, m := range req.Messages {
		if !m.Multipart() {
			out.Messages = append(out.Messages, message{Role: string(m.Role), Content: m.Text})
			continue
		}
		blocks := make([]contentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case upstream.PartImage:
				blocks = append(blocks, contentBlock{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: part.Image.MediaType,
						Data:      part.Image.Data,
					},
				})
			case upstream.PartText:
				blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
			}
		}
		out.Messages = append(out.Messages, message{Role: string(m.Role), Content: blocks})
	}
	return out
}
