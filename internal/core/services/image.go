package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"langsam-server/internal/core/domain"
)

// decodeRGB decodes any registered raster format into an opaque NRGBA image
// anchored at the origin. Alpha is dropped, not composited. Images larger
// than maxPixels are rejected from their header, before any raster is
// allocated; maxPixels <= 0 disables the check.
func decodeRGB(data []byte, maxPixels int64) (*image.NRGBA, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrInvalidImage, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: image size %dx%d exceeds limit of %d pixels",
			domain.ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrInvalidImage, err)
	}

	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	// draw.Draw goes through premultiplied colour and would zero or scale the
	// RGB of transparent pixels, so straight-alpha sources are read directly.
	switch s := src.(type) {
	case *image.NRGBA:
		rowLen := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			off := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], s.Pix[off:off+rowLen])
		}
	case *image.NRGBA64:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := s.NRGBA64At(b.Min.X+x, b.Min.Y+y)
				dst.SetNRGBA(x, y, color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8)})
			}
		}
	case *image.Paletted:
		// PNG tRNS entries decode as color.NRGBA, which the model passes
		// through unchanged.
		palette := make([]color.NRGBA, len(s.Palette))
		for i, c := range s.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				idx := int(s.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
				if idx < len(palette) {
					dst.SetNRGBA(x, y, palette[idx])
				}
			}
		}
	default:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, format, nil
}
