// Package validate confirms that fetched bytes are a genuine, decodable icon.
package validate

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	ico "github.com/sergeymakinen/go-ico"
	"golang.org/x/image/webp"

	"github.com/snapbooks-app/geticon/internal/icon"
)

// DefaultMaxDimension bounds either edge of a raster icon before it is fully decoded.
const DefaultMaxDimension = 8192

// Config tunes the validator.
type Config struct {
	MaxDimension int
}

type codec struct {
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

var codecs = map[icon.Format]codec{
	icon.FormatPNG:  {decode: png.Decode, config: png.DecodeConfig},
	icon.FormatJPEG: {decode: jpeg.Decode, config: jpeg.DecodeConfig},
	icon.FormatGIF:  {decode: gif.Decode, config: gif.DecodeConfig},
	icon.FormatWebP: {decode: webp.Decode, config: webp.DecodeConfig},
	icon.FormatICO:  {decode: ico.Decode, config: ico.DecodeConfig},
}

// Validator sniffs and structurally decodes icon payloads.
type Validator struct {
	maxDimension int
}

// New builds a Validator.
func New(cfg Config) *Validator {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	return &Validator{maxDimension: cfg.MaxDimension}
}

// Validate turns a candidate and its fetched body into a ValidatedIcon. Every rejection
// wraps icon.ErrInvalidImageContent.
func (v *Validator) Validate(c icon.Candidate, body []byte) (icon.ValidatedIcon, error) {
	if len(body) == 0 {
		return icon.ValidatedIcon{}, fmt.Errorf("%w: empty body", icon.ErrInvalidImageContent)
	}
	if LooksLikeHTML(body) {
		return icon.ValidatedIcon{}, fmt.Errorf("%w: html document", icon.ErrInvalidImageContent)
	}

	format := Sniff(body)
	var (
		size icon.Size
		err  error
	)
	switch format {
	case icon.FormatUnknown:
		return icon.ValidatedIcon{}, fmt.Errorf("%w: unrecognised signature", icon.ErrInvalidImageContent)
	case icon.FormatSVG:
		size, err = inspectSVG(body)
	default:
		size, err = v.decodeRaster(format, body)
	}
	if err != nil {
		return icon.ValidatedIcon{}, err
	}

	return icon.ValidatedIcon{
		Candidate: c,
		Data:      body,
		Format:    format,
		Bytes:     len(body),
		Inferred:  size,
	}, nil
}

func (v *Validator) decodeRaster(format icon.Format, body []byte) (icon.Size, error) {
	c, ok := codecs[format]
	if !ok {
		return icon.Size{}, fmt.Errorf("%w: no decoder for %s", icon.ErrInvalidImageContent, format)
	}
	cfg, err := c.config(bytes.NewReader(body))
	if err != nil {
		return icon.Size{}, fmt.Errorf("%w: decode %s header: %w", icon.ErrInvalidImageContent, format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > v.maxDimension || cfg.Height > v.maxDimension {
		return icon.Size{}, fmt.Errorf("%w: %s dimensions %dx%d out of range",
			icon.ErrInvalidImageContent, format, cfg.Width, cfg.Height)
	}
	img, err := c.decode(bytes.NewReader(body))
	if err != nil {
		return icon.Size{}, fmt.Errorf("%w: decode %s: %w", icon.ErrInvalidImageContent, format, err)
	}
	bounds := img.Bounds()
	return icon.Size{Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// inspectSVG requires a well-formed XML document with an <svg> root and reads its
// intrinsic size from width/height or the viewBox.
func inspectSVG(body []byte) (icon.Size, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return icon.Size{}, fmt.Errorf("%w: parse svg: %w", icon.ErrInvalidImageContent, err)
	}
	root := xmlquery.FindOne(doc, "/*")
	if root == nil || !strings.EqualFold(root.Data, "svg") {
		return icon.Size{}, fmt.Errorf("%w: svg root element missing", icon.ErrInvalidImageContent)
	}

	size := icon.Size{Scalable: true}
	w, wok := parseLength(root.SelectAttr("width"))
	h, hok := parseLength(root.SelectAttr("height"))
	if wok && hok {
		size.Width, size.Height = w, h
		return size, nil
	}
	fields := strings.FieldsFunc(root.SelectAttr("viewBox"), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 4 {
		vw, werr := strconv.ParseFloat(fields[2], 64)
		vh, herr := strconv.ParseFloat(fields[3], 64)
		if werr == nil && herr == nil && vw > 0 && vh > 0 {
			size.Width, size.Height = int(vw+0.5), int(vh+0.5)
		}
	}
	return size, nil
}

func parseLength(raw string) (int, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "px")
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int(f + 0.5), true
}
