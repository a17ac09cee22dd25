package testutil

import (
	"errors"
	"io"

	"github.com/tokligence/chatrelay/internal/upstream"
)

// CollectText drains s and returns the concatenated text deltas. s is closed
// on return.
func CollectText(s upstream.Stream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		if ev.Kind == upstream.EventTextDelta {
			out = append(out, ev.Text...)
		}
	}
}
