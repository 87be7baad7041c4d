package validate

import (
	"bytes"

	"github.com/snapbooks-app/geticon/internal/icon"
)

const sniffLen = 512

var (
	sigICO  = []byte{0x00, 0x00, 0x01, 0x00}
	sigPNG  = []byte("\x89PNG\r\n\x1a\n")
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigGIF7 = []byte("GIF87a")
	sigGIF9 = []byte("GIF89a")
	sigRIFF = []byte("RIFF")
	sigWEBP = []byte("WEBP")
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}
)

// Sniff identifies the format from leading bytes only.
func Sniff(data []byte) icon.Format {
	switch {
	case bytes.HasPrefix(data, sigPNG):
		return icon.FormatPNG
	case bytes.HasPrefix(data, sigJPEG):
		return icon.FormatJPEG
	case bytes.HasPrefix(data, sigGIF7), bytes.HasPrefix(data, sigGIF9):
		return icon.FormatGIF
	case len(data) >= 12 && bytes.HasPrefix(data, sigRIFF) && bytes.Equal(data[8:12], sigWEBP):
		return icon.FormatWebP
	case bytes.HasPrefix(data, sigICO):
		return icon.FormatICO
	case looksLikeSVG(data):
		return icon.FormatSVG
	default:
		return icon.FormatUnknown
	}
}

// LooksLikeHTML reports whether the payload is an HTML document, whatever the server
// claimed in Content-Type.
func LooksLikeHTML(data []byte) bool {
	head := markupHead(data)
	if len(head) == 0 || head[0] != '<' {
		return false
	}
	if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
		return true
	}
	if bytes.Contains(head, []byte("<svg")) {
		return false
	}
	return bytes.Contains(head, []byte("<head")) || bytes.Contains(head, []byte("<body"))
}

// looksLikeSVG checks the head first. A prologue longer than the head, such as a
// license comment, falls back to parsing the document for an <svg> root.
func looksLikeSVG(data []byte) bool {
	head := markupHead(data)
	if len(head) == 0 || head[0] != '<' {
		return false
	}
	if bytes.Contains(head, []byte("<svg")) {
		return true
	}
	if len(head) < sniffLen {
		return false
	}
	_, err := inspectSVG(data)
	return err == nil
}

// markupHead returns the lower-cased leading bytes with BOM and whitespace removed.
func markupHead(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.ToLower(data)
}
