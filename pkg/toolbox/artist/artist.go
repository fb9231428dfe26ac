// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package artist renders simple PNG images: a filled canvas with an optional
// centered shape.
package artist

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/toolbox"
)

// MaxSide bounds image width and height.
const MaxSide = 4096

var named = map[string]color.RGBA{
	"white":  {255, 255, 255, 255},
	"black":  {0, 0, 0, 255},
	"red":    {220, 38, 38, 255},
	"green":  {22, 163, 74, 255},
	"blue":   {37, 99, 235, 255},
	"yellow": {250, 204, 21, 255},
	"orange": {249, 115, 22, 255},
	"purple": {147, 51, 234, 255},
	"pink":   {236, 72, 153, 255},
	"gray":   {107, 114, 128, 255},
	"grey":   {107, 114, 128, 255},
}

// Artist writes images to an output directory.
type Artist struct {
	dir string
}

// New creates an artist writing to dir.
func New(dir string) (*Artist, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.CodeInternal, "create output dir", err)
	}
	return &Artist{dir: dir}, nil
}

// Register adds create_image to r.
func (a *Artist) Register(r *toolbox.Registry) error {
	return r.Register(toolbox.Spec{
		Name:        "create_image",
		MinArgs:     3,
		MaxArgs:     5,
		Usage:       `create_image("filename", width, height, "color", "shape")`,
		Description: "draw a PNG; color is a name or #rrggbb, shape is circle, square, rectangle, triangle or none",
	}, a.createImage)
}

// ParseColor accepts a color name or #rgb / #rrggbb.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return named["white"], nil
	}
	if c, ok := named[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
}

// Render draws a w x h canvas filled with bg and, unless shape is empty or
// none, a shape in the contrasting color.
func Render(w, h int, bg color.RGBA, shape string) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, bg)
		}
	}
	fg := contrast(bg)
	cx, cy := float64(w)/2, float64(h)/2
	half := float64(min(w, h)) / 4
	var inside func(x, y float64) bool
	switch strings.ToLower(strings.TrimSpace(shape)) {
	case "", "none":
		return img, nil
	case "circle":
		inside = func(x, y float64) bool {
			dx, dy := x-cx, y-cy
			return dx*dx+dy*dy <= half*half
		}
	case "square":
		inside = func(x, y float64) bool {
			return x >= cx-half && x < cx+half && y >= cy-half && y < cy+half
		}
	case "rectangle", "rect":
		inside = func(x, y float64) bool {
			return x >= float64(w)/6 && x < float64(w)*5/6 && y >= cy-half && y < cy+half
		}
	case "triangle":
		inside = func(x, y float64) bool {
			top, bottom := cy-half, cy+half
			if y < top || y >= bottom {
				return false
			}
			spread := (y - top) / (bottom - top) * half
			return x >= cx-spread && x <= cx+spread
		}
	default:
		return nil, fmt.Errorf("unknown shape %q", shape)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if inside(float64(x)+0.5, float64(y)+0.5) {
				img.SetRGBA(x, y, fg)
			}
		}
	}
	return img, nil
}

func contrast(c color.RGBA) color.RGBA {
	luma := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if luma > 140 {
		return named["black"]
	}
	return named["white"]
}

func dimension(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px")))
	if err != nil || n < 1 || n > MaxSide {
		return 0, fmt.Errorf("size must be a whole number between 1 and %d, got %q", MaxSide, s)
	}
	return n, nil
}

func (a *Artist) createImage(_ context.Context, args []string) toolbox.Result {
	name := filepath.Base(strings.TrimSpace(args[0]))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return toolbox.Failed("a file name is required")
	}
	if !strings.EqualFold(filepath.Ext(name), ".png") {
		name += ".png"
	}
	w, err := dimension(args[1])
	if err != nil {
		return toolbox.Failed("width: %v", err)
	}
	h, err := dimension(args[2])
	if err != nil {
		return toolbox.Failed("height: %v", err)
	}
	var colorArg, shapeArg string
	if len(args) > 3 {
		colorArg = args[3]
	}
	if len(args) > 4 {
		shapeArg = args[4]
	}
	bg, err := ParseColor(colorArg)
	if err != nil {
		return toolbox.Failed("%v", err)
	}
	img, err := Render(w, h, bg, shapeArg)
	if err != nil {
		return toolbox.Failed("%v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return toolbox.Failed("could not encode image: %v", err)
	}
	path := filepath.Join(a.dir, name)
	if err := fsutil.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return toolbox.Failed("could not save %s: %v", path, err)
	}
	return toolbox.OK("Saved %dx%d image to %s", w, h, path)
}
