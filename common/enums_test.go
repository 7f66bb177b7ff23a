package common

import (
	"errors"
	"testing"
)

func TestParseContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    ContentType
		wantErr bool
	}{
		{"text", ContentTypeText, false},
		{"html", ContentTypeHtml, false},
		{"markdown", ContentType(0), true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContentType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidContentType) {
					t.Errorf("ParseContentType(%q) error = %v, want ErrInvalidContentType", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContentType(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseContentType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestContentType_Preformatted(t *testing.T) {
	if !ContentTypeText.Preformatted() {
		t.Error("text content must be preformatted")
	}
	if ContentTypeHtml.Preformatted() {
		t.Error("html content must not be preformatted")
	}
}

func TestContentType_UnmarshalText(t *testing.T) {
	var ct ContentType
	if err := ct.UnmarshalText([]byte("html")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if ct != ContentTypeHtml {
		t.Errorf("UnmarshalText() = %v, want html", ct)
	}
	if ContentType(7).String() != "ContentType(7)" {
		t.Errorf("String() of unknown value = %q", ContentType(7).String())
	}
}
