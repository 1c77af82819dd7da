// Package media re-encodes chat images and optionally moves them out of the
// message rows into object storage.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/nfnt/resize"
)

const (
	// MaxDimension bounds the longer edge of re-encoded photos.
	MaxDimension uint = 1280
	jpegQuality       = 85
	dataURLPrefix     = "data:"
)

var ErrNotDataURL = errors.New("not a base64 data URL")

// ReencodeJPEG decodes a JPEG, PNG or GIF image, scales it down so neither
// edge exceeds maxDim and encodes it as JPEG.
func ReencodeJPEG(r io.Reader, maxDim uint) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if uint(bounds.Dx()) > maxDim || uint(bounds.Dy()) > maxDim {
		img = resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

// PhotoDataURL re-encodes the image read from r and returns it as an inline
// JPEG data URL suitable for Message.Image.
func PhotoDataURL(r io.Reader) (string, error) {
	data, err := ReencodeJPEG(r, MaxDimension)
	if err != nil {
		return "", err
	}
	return DataURL("image/jpeg", data), nil
}

func DataURL(contentType string, data []byte) string {
	return dataURLPrefix + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func IsDataURL(s string) bool {
	return strings.HasPrefix(s, dataURLPrefix)
}

// ParseDataURL splits a base64 data URL into its content type and payload.
func ParseDataURL(s string) (string, []byte, error) {
	if !IsDataURL(s) {
		return "", nil, ErrNotDataURL
	}

	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, dataURLPrefix), ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}

	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}

	return contentType, data, nil
}
