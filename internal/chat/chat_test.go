package chat

import (
	"errors"
	"testing"
)

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		ok    bool
		media string
		data  string
	}{
		{name: "png", uri: "data:image/png;base64,iVBORw0KGgo=", ok: true, media: "image/png", data: "iVBORw0KGgo="},
		{name: "jpeg", uri: "data:image/jpeg;base64,/9j/4AAQ", ok: true, media: "image/jpeg", data: "/9j/4AAQ"},
		{name: "gif", uri: "data:image/gif;base64,R0lGOD", ok: true, media: "image/gif", data: "R0lGOD"},
		{name: "webp", uri: "data:image/webp;base64,UklGR", ok: true, media: "image/webp", data: "UklGR"},
		{name: "unsupported type", uri: "data:image/bmp;base64,Qk0=", ok: false},
		{name: "not base64", uri: "data:image/png,raw", ok: false},
		{name: "empty payload", uri: "data:image/png;base64,", ok: false},
		{name: "remote url", uri: "https://example.com/cat.png", ok: false},
		{name: "empty", uri: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, ok := ParseDataURI(tt.uri)
			if ok != tt.ok {
				t.Fatalf("ParseDataURI(%q) ok=%v, want %v", tt.uri, ok, tt.ok)
			}
			if !ok {
				return
			}
			if img.MediaType != tt.media || img.Data != tt.data {
				t.Fatalf("unexpected image %+v", img)
			}
			if img.URI() != tt.uri {
				t.Fatalf("URI() = %q, want %q", img.URI(), tt.uri)
			}
		})
	}
}

func TestEncodeDataURIRoundTrip(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	img, ok := ParseDataURI(EncodeDataURI("IMAGE/PNG", raw))
	if !ok {
		t.Fatalf("expected encoded uri to parse")
	}
	got, err := img.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("payload mismatch: %v", got)
	}
}

func TestRequestValidate(t *testing.T) {
	if err := (Request{Model: "m"}).Validate(); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
	err := Request{Model: "m", Messages: []Turn{{Role: "system", Content: "x"}}}.Validate()
	var roleErr *InvalidRoleError
	if !errors.As(err, &roleErr) || roleErr.Index != 0 {
		t.Fatalf("expected InvalidRoleError at 0, got %v", err)
	}
	ok := Request{Model: "m", Messages: []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleUser, Content: "again"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error for repeated user turns: %v", err)
	}
}

func TestHistoryCopiesImages(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "look", ImageURLs: []string{"data:image/png;base64,AA=="}},
		{Role: RoleAssistant, Content: "nice"},
	}
	turns := History(msgs)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Images != nil {
		t.Fatalf("assistant turn should carry no images")
	}
	turns[0].Images[0] = "mutated"
	if msgs[0].ImageURLs[0] == "mutated" {
		t.Fatalf("History must not alias stored image slices")
	}
}
