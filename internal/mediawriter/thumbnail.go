package mediawriter

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
)

// DefaultThumbnailSize bounds the longer edge of generated thumbnails.
const DefaultThumbnailSize = 320

// EncodeJPEG encodes an image as JPEG with the specified quality (1-100)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img so its longer edge is at most maxDim, keeping the
// aspect ratio. Smaller images are copied unscaled.
func Thumbnail(img image.Image, maxDim int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 {
		maxDim = DefaultThumbnailSize
	}
	nw, nh := w, h
	if w >= h && w > maxDim {
		nw, nh = maxDim, h*maxDim/w
	} else if h > w && h > maxDim {
		nw, nh = w*maxDim/h, maxDim
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	// nearest-neighbour
	for y := 0; y < nh; y++ {
		sy := b.Min.Y + y*h/nh
		for x := 0; x < nw; x++ {
			out.Set(x, y, img.At(b.Min.X+x*w/nw, sy))
		}
	}
	return out
}

// SaveThumbnail writes a JPEG thumbnail of img to path.
func SaveThumbnail(path string, img image.Image, maxDim int) error {
	data, err := EncodeJPEG(Thumbnail(img, maxDim), 85)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
