// Package protocol implements the application protocol carried over the room's
// data channel. Three message kinds share one channel: collaborative notes
// state, URL shares, and chunked file transfer. Every message is a single
// JSON object per send.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindNotes    Kind = "notes"
	KindURL      Kind = "url"
	KindVideoURL Kind = "video-url"
	KindFile     Kind = "file"
)

// envelope is the wire shape shared by all message kinds. Which fields are
// populated depends on Type:
//
//	notes           {"type":"notes","content":<string>}
//	url, video-url  {"type":"url","value":{"name":<string>,"url":<string>}}
//	file in-flight  {"type":"file","done":false,"value":[<byte>,...]}
//	file terminal   {"type":"file","done":true,"value":{"name":...,"type":...}}
type envelope struct {
	Type    Kind            `json:"type"`
	Content string          `json:"content,omitempty"`
	Done    bool            `json:"done,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

type urlValue struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type fileMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// byteValues marshals as a JSON array of numbers rather than the base64
// string encoding/json would use for []byte. The original wire format carries
// chunk payloads as plain byte-value arrays and both ends must agree.
type byteValues []byte

func (b byteValues) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendUint(out, v)
	}
	return append(out, ']'), nil
}

func (b *byteValues) UnmarshalJSON(data []byte) error {
	var values []uint16
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	decoded := make([]byte, len(values))
	for i, v := range values {
		if v > 0xFF {
			return fmt.Errorf("byte value %d out of range at index %d", v, i)
		}
		decoded[i] = byte(v)
	}
	*b = decoded
	return nil
}

func appendUint(dst []byte, v byte) []byte {
	if v >= 100 {
		dst = append(dst, '0'+v/100)
	}
	if v >= 10 {
		dst = append(dst, '0'+(v/10)%10)
	}
	return append(dst, '0'+v%10)
}

// NotesUpdate is the full current notes state, not a diff. Last write wins.
type NotesUpdate struct {
	Content string
}

// URLShare references remote content by URL instead of transferring bytes.
type URLShare struct {
	Name string
	URL  string
}

// File is a fully reassembled inbound file.
type File struct {
	Name string
	Type string
	Data []byte
}

func EncodeNotes(content string) ([]byte, error) {
	return json.Marshal(envelope{Type: KindNotes, Content: content})
}

func EncodeURLShare(name, url string) ([]byte, error) {
	value, err := json.Marshal(urlValue{Name: name, URL: url})
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: KindURL, Value: value})
}

// EncodeFileChunk encodes one in-flight payload fragment. The done field is
// carried explicitly as false so receivers never have to guess.
func EncodeFileChunk(payload []byte) ([]byte, error) {
	value, err := json.Marshal(byteValues(payload))
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type  Kind            `json:"type"`
		Done  bool            `json:"done"`
		Value json.RawMessage `json:"value"`
	}{Type: KindFile, Done: false, Value: value})
}

// EncodeFileDone encodes the terminal metadata message for a transfer. It
// carries no payload; exactly one is sent after the last fragment.
func EncodeFileDone(name, mimeType string) ([]byte, error) {
	value, err := json.Marshal(fileMeta{Name: name, Type: mimeType})
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: KindFile, Done: true, Value: value})
}
