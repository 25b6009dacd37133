package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"

	"mydraws-credits-go/internal/models"

	"github.com/disintegration/imaging"
)

const (
	defaultDetailLevel = 21
	defaultJPEGQuality = 90
)

// SketchTransformer renders a pencil-sketch look: grayscale, inverted blur,
// then colour-dodge blend of the two.
type SketchTransformer struct {
	kernelSize int
	quality    int
}

func NewSketchTransformer(cfg models.SketchConfig) *SketchTransformer {
	k := cfg.DetailLevel
	if k <= 0 {
		k = defaultDetailLevel
	}
	if k%2 == 0 {
		k++
	}
	q := cfg.JPEGQuality
	if q <= 0 || q > 100 {
		q = defaultJPEGQuality
	}
	return &SketchTransformer{kernelSize: k, quality: q}
}

// sigma follows the usual kernel-size to sigma rule for Gaussian blurs.
func (s *SketchTransformer) sigma() float64 {
	return 0.3*((float64(s.kernelSize)-1)*0.5-1) + 0.8
}

func (s *SketchTransformer) Transform(ctx context.Context, input []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, newError(KindDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimeout, err)
	}

	gray := imaging.Grayscale(img)
	blurred := imaging.Blur(imaging.Invert(gray), s.sigma())
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimeout, err)
	}

	sketch := colorDodge(gray, blurred)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sketch, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, newError(KindEncode, err)
	}
	return buf.Bytes(), nil
}

// colorDodge blends base with blend as min(255, base*256/(255-blend)).
func colorDodge(base, blend *image.NRGBA) *image.Gray {
	bounds := base.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := int(base.NRGBAAt(x, y).R)
			b := int(blend.NRGBAAt(x, y).R)
			v := 255
			if b < 255 {
				v = g * 256 / (255 - b)
				if v > 255 {
					v = 255
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}
