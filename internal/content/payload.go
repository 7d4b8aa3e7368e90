package content

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the content kind of a broadcast payload.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAnimation Kind = "animation"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindAnimation:
		return true
	}
	return false
}

// Button is one inline button. Target is either an http(s) URL or an opaque
// action token passed back as callback data.
type Button struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// IsURL reports whether the target is an external link.
func (b Button) IsURL() bool {
	return strings.HasPrefix(b.Target, "http://") || strings.HasPrefix(b.Target, "https://")
}

// Payload is the transport-neutral broadcast content. For media kinds Text is
// the caption.
type Payload struct {
	Kind     Kind     `json:"contentKind"`
	Text     string   `json:"text"`
	MediaRef string   `json:"mediaRef,omitempty"`
	Buttons  []Button `json:"buttons"`
}

const (
	maxTextLen     = 4096
	maxCaptionLen  = 1024
	maxLabelLen    = 64
	maxCallbackLen = 64
)

var (
	ErrEmptyPayload  = errors.New("payload has no text, media or buttons")
	ErrInvalidKind   = errors.New("invalid content kind")
	ErrMissingMedia  = errors.New("media payload without media reference")
	ErrTextTooLong   = errors.New("text too long")
	ErrInvalidButton = errors.New("invalid button")
)

// Validate checks the payload against Telegram limits.
func (p Payload) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, p.Kind)
	}
	if p.Kind == KindText {
		if strings.TrimSpace(p.Text) == "" && len(p.Buttons) == 0 {
			return ErrEmptyPayload
		}
		if utf8.RuneCountInString(p.Text) > maxTextLen {
			return ErrTextTooLong
		}
	} else {
		if p.MediaRef == "" {
			return ErrMissingMedia
		}
		if utf8.RuneCountInString(p.Text) > maxCaptionLen {
			return ErrTextTooLong
		}
	}
	for i, b := range p.Buttons {
		switch {
		case b.Label == "" || utf8.RuneCountInString(b.Label) > maxLabelLen:
			return fmt.Errorf("%w #%d: bad label", ErrInvalidButton, i+1)
		case b.Target == "":
			return fmt.Errorf("%w #%d: empty target", ErrInvalidButton, i+1)
		case !b.IsURL() && len(b.Target) > maxCallbackLen:
			return fmt.Errorf("%w #%d: action token longer than %d bytes", ErrInvalidButton, i+1, maxCallbackLen)
		}
	}
	return nil
}

// Value stores the payload as a JSON document.
func (p Payload) Value() (driver.Value, error) {
	if p.Buttons == nil {
		p.Buttons = []Button{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON document written by Value.
func (p *Payload) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("content: cannot scan %T into Payload", src)
	}
	return json.Unmarshal(b, p)
}
