package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
)

var ErrInvalidJSONBody = errors.New("body is not valid json")

type PayloadKind int

const (
	PayloadJSON PayloadKind = iota
	PayloadText
)

func (k PayloadKind) String() string {
	if k == PayloadText {
		return "text"
	}
	return "json"
}

// Payload is a message body resolved against its effective content-type.
type Payload struct {
	Kind        PayloadKind
	ContentType string
	JSON        json.RawMessage
	Text        string
}

// Bytes returns the wire encoding of the payload.
func (p Payload) Bytes() []byte {
	if p.Kind == PayloadText {
		return []byte(p.Text)
	}
	return p.JSON
}

// MergeHeaders overlays message headers on top of queue headers.
// Keys are canonicalized so "content-type" and "Content-Type" collide.
func MergeHeaders(queue, message map[string]string) map[string]string {
	out := make(map[string]string, len(queue)+len(message))
	for k, v := range queue {
		out[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range message {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}

// ResolvePayload picks the body encoding from the Content-Type in headers.
// JSON media types and anything unknown are sent as JSON, text/plain as a raw string.
func ResolvePayload(headers map[string]string, body string) (Payload, error) {
	ct := ""
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			ct = v
			break
		}
	}

	mediaType := ""
	if ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err == nil {
			mediaType = strings.ToLower(mt)
		}
	}

	if mediaType == "text/plain" {
		return Payload{Kind: PayloadText, ContentType: ct, Text: body}, nil
	}

	if !isJSONMediaType(mediaType) {
		ct = "application/json"
	}

	if body == "" {
		return Payload{Kind: PayloadJSON, ContentType: ct}, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return Payload{}, ErrInvalidJSONBody
	}
	return Payload{Kind: PayloadJSON, ContentType: ct, JSON: buf.Bytes()}, nil
}

func isJSONMediaType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
