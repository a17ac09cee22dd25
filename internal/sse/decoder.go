package sse

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind discriminates decoded events.
type Kind int

const (
	// Text carries one fragment of assistant text.
	Text Kind = iota
	// Done marks a successful end of stream.
	Done
	// Error carries an application error reported by the relay.
	Error
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event is one decoded frame.
type Event struct {
	Kind Kind
	Text string
	Err  string
}

// Decoder reassembles frames from chunks split at arbitrary byte offsets.
// The incomplete tail of each chunk is kept as raw bytes, so multi-byte
// UTF-8 sequences split across reads survive intact.
type Decoder struct {
	buf       []byte
	terminal  bool
	discarded int
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

var dataPrefix = []byte("data: ")

// Feed appends chunk and returns the events of every line it completes.
// After a Done or Error event the decoder is terminal and Feed returns nil.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.terminal {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte("\r"))
		d.buf = d.buf[i+1:]

		ev, ok := d.parseLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Kind != Text {
			d.terminal = true
			d.buf = nil
			break
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

func (d *Decoder) parseLine(line []byte) (Event, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	if string(payload) == DoneSentinel {
		return Event{Kind: Done}, true
	}
	if !json.Valid(payload) {
		d.discarded++
		return Event{}, false
	}

	var frame struct {
		Text  json.RawMessage `json:"text"`
		Error json.RawMessage `json:"error"`
	}
	// valid JSON that is not an object carries neither field
	_ = json.Unmarshal(payload, &frame)

	if msg, ok := errorMessage(frame.Error); ok {
		return Event{Kind: Error, Err: msg}, true
	}
	if text, ok := textValue(frame.Text); ok {
		return Event{Kind: Text, Text: text}, true
	}
	return Event{}, false
}

// textValue returns the fragment carried by a text field. Truthy numbers and
// true are kept in their JSON form; objects and arrays are ignored.
func textValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '{', '[', 'n', 'f':
		return "", false
	case 't':
		return "true", true
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err != nil || f == 0 {
		return "", false
	}
	return string(raw), true
}

// errorMessage reports whether raw holds a truthy error value.
func errorMessage(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// Terminal reports whether a Done or Error event has been decoded.
func (d *Decoder) Terminal() bool { return d.terminal }

// Discarded returns how many data lines were dropped as non-JSON.
func (d *Decoder) Discarded() int { return d.discarded }

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (d *Decoder) Pending() int { return len(d.buf) }
