// Package content defines the canonical clipboard content model and the
// normalizer that converts raw OS clipboard payloads into it.
//
// A Payload is what a display-protocol adapter hands us: one or more
// representations of the same clipboard state, each tagged with a MIME type.
// Normalize picks the richest representation (image > html+plain > plain) and
// produces a Content plus a deterministic fingerprint used for deduplication.
package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/nfnt/resize"
)

// MIME types understood by the normalizer.
const (
	MIMEText    = "text/plain"
	MIMEHTML    = "text/html"
	MIMEPNG     = "image/png"
	MIMEURIList = "text/uri-list"
)

// Kind discriminates the Content union.
type Kind string

const (
	KindText     Kind = "text"
	KindRichText Kind = "rich_text"
	KindImage    Kind = "image"
)

// PreviewTextMax is the maximum rune length of a text preview.
const PreviewTextMax = 100

// ThumbnailMax is the maximum edge length of an image thumbnail in pixels.
const ThumbnailMax = 96

// ErrEmpty reports a capture with no usable content (empty clipboard, or
// text that is entirely whitespace). Such captures never become history items.
var ErrEmpty = errors.New("empty clipboard content")

// ErrTooLarge reports an image above the configured size limit.
var ErrTooLarge = errors.New("image exceeds size limit")

// Rep is a single representation of the clipboard state.
type Rep struct {
	MIME string
	Data []byte
}

// Payload is the raw clipboard state as read from the OS: every
// representation offered simultaneously, in no particular order.
type Payload struct {
	Reps []Rep
}

// Get returns the data for the first representation with the given MIME
// type, or nil if absent.
func (p Payload) Get(mime string) []byte {
	for _, r := range p.Reps {
		if r.MIME == mime {
			return r.Data
		}
	}
	return nil
}

// Empty reports whether the payload carries no representations at all.
func (p Payload) Empty() bool { return len(p.Reps) == 0 }

// Content is the canonical clipboard content: exactly one of the variant
// field sets is populated, selected by Kind.
type Content struct {
	Kind Kind

	// KindText and KindRichText
	Text string
	// KindRichText only
	HTML string

	// KindImage: PNG bytes base64-encoded for the UI boundary, plus
	// dimensions recorded at decode time.
	ImageB64 string
	Width    uint32
	Height   uint32
}

// contentJSON is the wire form: a tagged union, {"type": ..., "data": ...}.
type contentJSON struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type richTextJSON struct {
	Plain     string `json:"plain"`
	Formatted string `json:"formatted"`
}

type imageJSON struct {
	Base64 string `json:"base64"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// MarshalJSON encodes the content as a tagged union.
func (c Content) MarshalJSON() ([]byte, error) {
	var data any
	switch c.Kind {
	case KindText:
		data = c.Text
	case KindRichText:
		data = richTextJSON{Plain: c.Text, Formatted: c.HTML}
	case KindImage:
		data = imageJSON{Base64: c.ImageB64, Width: c.Width, Height: c.Height}
	default:
		return nil, fmt.Errorf("unknown content kind %q", c.Kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentJSON{Type: c.Kind, Data: raw})
}

// UnmarshalJSON decodes the tagged union form.
func (c *Content) UnmarshalJSON(b []byte) error {
	var cj contentJSON
	if err := json.Unmarshal(b, &cj); err != nil {
		return err
	}
	switch cj.Type {
	case KindText:
		var s string
		if err := json.Unmarshal(cj.Data, &s); err != nil {
			return err
		}
		*c = Content{Kind: KindText, Text: s}
	case KindRichText:
		var rt richTextJSON
		if err := json.Unmarshal(cj.Data, &rt); err != nil {
			return err
		}
		*c = Content{Kind: KindRichText, Text: rt.Plain, HTML: rt.Formatted}
	case KindImage:
		var im imageJSON
		if err := json.Unmarshal(cj.Data, &im); err != nil {
			return err
		}
		*c = Content{Kind: KindImage, ImageB64: im.Base64, Width: im.Width, Height: im.Height}
	default:
		return fmt.Errorf("unknown content kind %q", cj.Type)
	}
	return nil
}

// Fingerprint returns a deterministic hash of the canonical content: the
// plain text for Text/RichText, the decoded image bytes for Image. Two
// contents with equal fingerprints are duplicates regardless of timestamp
// or formatting differences.
func (c Content) Fingerprint() string {
	switch c.Kind {
	case KindImage:
		raw, err := base64.StdEncoding.DecodeString(c.ImageB64)
		if err != nil {
			raw = []byte(c.ImageB64)
		}
		return FingerprintBytes(raw)
	default:
		return FingerprintBytes([]byte(c.Text))
	}
}

// FingerprintBytes hashes raw canonical bytes.
func FingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Preview returns a short display string for the content: text truncated to
// PreviewTextMax runes, or "Image (WxH)" for images.
func (c Content) Preview() string {
	if c.Kind == KindImage {
		return fmt.Sprintf("Image (%dx%d)", c.Width, c.Height)
	}
	if utf8.RuneCountInString(c.Text) <= PreviewTextMax {
		return c.Text
	}
	runes := []rune(c.Text)
	return string(runes[:PreviewTextMax]) + "..."
}

// Normalizer converts raw payloads into canonical Content.
type Normalizer struct {
	// MaxImageBytes rejects images whose decoded size (RGBA, 4 bytes per
	// pixel) exceeds this. Zero means no limit.
	MaxImageBytes int
}

// Normalize picks the richest representation available in p and converts it.
// Precedence: image > html+plain > plain. Returns ErrEmpty for payloads that
// should not become history items and ErrTooLarge for oversized images.
func (n Normalizer) Normalize(p Payload) (Content, error) {
	if img := p.Get(MIMEPNG); len(img) > 0 {
		return n.normalizeImage(img)
	}

	plain := string(p.Get(MIMEText))
	if strings.TrimSpace(plain) == "" {
		return Content{}, ErrEmpty
	}

	if html := p.Get(MIMEHTML); len(html) > 0 {
		return Content{Kind: KindRichText, Text: plain, HTML: string(html)}, nil
	}
	// Captured text is preserved exactly; only the empty check above trims.
	return Content{Kind: KindText, Text: plain}, nil
}

func (n Normalizer) normalizeImage(data []byte) (Content, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Content{}, fmt.Errorf("decode image: %w", err)
	}
	// The limit guards memory, so it applies to the decoded pixel data —
	// a tiny compressed stream can expand enormously.
	if n.MaxImageBytes > 0 {
		if decoded := cfg.Width * cfg.Height * 4; decoded > n.MaxImageBytes {
			return Content{}, fmt.Errorf("%w: %dx%d decodes to %d bytes", ErrTooLarge, cfg.Width, cfg.Height, decoded)
		}
	}
	if format != "png" {
		// Adapters always hand us PNG; anything else is re-encoded.
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Content{}, fmt.Errorf("decode image: %w", err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Content{}, fmt.Errorf("encode png: %w", err)
		}
		data = buf.Bytes()
	}
	return Content{
		Kind:     KindImage,
		ImageB64: base64.StdEncoding.EncodeToString(data),
		Width:    uint32(cfg.Width),
		Height:   uint32(cfg.Height),
	}, nil
}

// Thumbnail returns a downscaled PNG (longest edge ThumbnailMax px) encoded
// as base64, for preview rendering in the UI. Returns "" for non-image
// content or when the image cannot be decoded; previews are best-effort.
func (c Content) Thumbnail() string {
	if c.Kind != KindImage {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(c.ImageB64)
	if err != nil {
		return ""
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	b := img.Bounds()
	if b.Dx() <= ThumbnailMax && b.Dy() <= ThumbnailMax {
		return c.ImageB64
	}
	var thumb image.Image
	if b.Dx() >= b.Dy() {
		thumb = resize.Resize(ThumbnailMax, 0, img, resize.Lanczos3)
	} else {
		thumb = resize.Resize(0, ThumbnailMax, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// TextPayload builds a plain-text payload.
func TextPayload(text string) Payload {
	return Payload{Reps: []Rep{{MIME: MIMEText, Data: []byte(text)}}}
}
