package models

import (
	"errors"
	"testing"
	"time"
)

func TestResolvePayload(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		body     string
		wantKind PayloadKind
		wantCT   string
		wantBody string
		wantErr  error
	}{
		{
			name:     "no content type is json",
			body:     `{ "a": 1 }`,
			wantKind: PayloadJSON,
			wantCT:   "application/json",
			wantBody: `{"a":1}`,
		},
		{
			name:     "text plain with charset",
			headers:  map[string]string{"content-type": "text/plain; charset=utf-8"},
			body:     "hello",
			wantKind: PayloadText,
			wantCT:   "text/plain; charset=utf-8",
			wantBody: "hello",
		},
		{
			name:     "vendor json suffix",
			headers:  map[string]string{"Content-Type": "application/vnd.hooks+json"},
			body:     `[1,2]`,
			wantKind: PayloadJSON,
			wantCT:   "application/vnd.hooks+json",
			wantBody: `[1,2]`,
		},
		{
			name:     "unknown type falls back to json",
			headers:  map[string]string{"Content-Type": "application/xml"},
			body:     `"x"`,
			wantKind: PayloadJSON,
			wantCT:   "application/json",
			wantBody: `"x"`,
		},
		{
			name:     "empty body",
			wantKind: PayloadJSON,
			wantCT:   "application/json",
		},
		{
			name:    "invalid json",
			body:    "not json",
			wantErr: ErrInvalidJSONBody,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ResolvePayload(tt.headers, tt.body)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolvePayload: %v", err)
			}
			if p.Kind != tt.wantKind || p.ContentType != tt.wantCT || string(p.Bytes()) != tt.wantBody {
				t.Errorf("got %s %q %q, want %s %q %q", p.Kind, p.ContentType, p.Bytes(), tt.wantKind, tt.wantCT, tt.wantBody)
			}
		})
	}
}

func TestMergeHeaders(t *testing.T) {
	got := MergeHeaders(
		map[string]string{"content-type": "text/plain", "X-Queue": "q"},
		map[string]string{"Content-Type": "application/json"},
	)
	if got["Content-Type"] != "application/json" || got["X-Queue"] != "q" || len(got) != 2 {
		t.Errorf("MergeHeaders = %v", got)
	}
}

func TestBodyText(t *testing.T) {
	tests := map[string]string{
		``:              "",
		`null`:          "",
		`"plain text"`:  "plain text",
		`{"id":1}`:      `{"id":1}`,
		`[true, false]`: `[true, false]`,
	}
	for in, want := range tests {
		got, err := BodyText([]byte(in))
		if err != nil {
			t.Fatalf("BodyText(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("BodyText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessageDue(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sent := now

	tests := []struct {
		name string
		m    Message
		want bool
	}{
		{name: "pending past", m: Message{Status: MessageStatusPending, When: now.Add(-time.Second)}, want: true},
		{name: "pending now", m: Message{Status: MessageStatusPending, When: now}, want: true},
		{name: "pending future", m: Message{Status: MessageStatusPending, When: now.Add(time.Second)}},
		{name: "sent", m: Message{Status: MessageStatusSent, SentAt: &sent, When: now}},
		{name: "failed", m: Message{Status: MessageStatusFailed, When: now}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Due(now); got != tt.want {
				t.Errorf("Due = %v, want %v", got, tt.want)
			}
		})
	}
}
