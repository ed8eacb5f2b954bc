// Package captcha renders challenge images with github.com/dchest/captcha.
package captcha

import (
	"bytes"
	"fmt"

	"github.com/dchest/captcha"
)

const (
	DefaultLength = 4
	DefaultWidth  = captcha.StdWidth
	DefaultHeight = captcha.StdHeight
)

// Renderer draws digit captchas as PNG images.
type Renderer struct {
	length int
	width  int
	height int
	digits func(n int) []byte
}

type Option func(*Renderer)

func WithLength(n int) Option {
	return func(r *Renderer) { r.length = n }
}

func WithSize(width, height int) Option {
	return func(r *Renderer) {
		r.width = width
		r.height = height
	}
}

func New(opts ...Option) *Renderer {
	r := &Renderer{
		length: DefaultLength,
		width:  DefaultWidth,
		height: DefaultHeight,
		digits: captcha.RandomDigits,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns the expected answer and the PNG that shows it.
func (r *Renderer) Render() (string, []byte, error) {
	digits := r.digits(r.length)
	answer := make([]byte, len(digits))
	for i, d := range digits {
		answer[i] = '0' + d
	}

	img := captcha.NewImage("", digits, r.width, r.height)
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		return "", nil, fmt.Errorf("encode captcha: %w", err)
	}
	return string(answer), buf.Bytes(), nil
}
