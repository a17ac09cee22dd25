package relay

import (
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/upstream"
)

// MaxOutputTokens is the fixed completion budget of every upstream call.
const MaxOutputTokens = 8192

// Transform converts a chat request into the upstream form. Turns carrying
// images become multi-part messages with the decodable images first, in
// order, followed by the text when it is non-empty. Malformed image
// references are dropped. Other turns stay plain text.
func Transform(req chat.Request) upstream.Request {
	out := upstream.Request{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: MaxOutputTokens,
		Messages:  make([]upstream.Message, 0, len(req.Messages)),
	}
	for _, turn := range req.Messages {
		msg := upstream.Message{Role: turn.Role}
		if len(turn.Images) == 0 {
			msg.Text = turn.Content
			out.Messages = append(out.Messages, msg)
			continue
		}
		msg.Parts = make([]upstream.Part, 0, len(turn.Images)+1)
		for _, ref := range turn.Images {
			img, ok := chat.ParseDataURI(ref)
			if !ok {
				continue
			}
			msg.Parts = append(msg.Parts, upstream.Part{Type: upstream.PartImage, Image: img})
		}
		if turn.Content != "" {
			msg.Parts = append(msg.Parts, upstream.Part{Type: upstream.PartText, Text: turn.Content})
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}
