package anthropic

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/aschepis/backscratcher/streamchat/llm"
)

// Image limits the API accepts without downscaling.
const (
	MaxImageWidth  = 1568
	MaxImageHeight = 1568
	MaxImagePixels = 1192464
)

// FormatImage encodes img as PNG and returns it as an image content part.
func FormatImage(img image.Image) (llm.ContentPart, error) {
	if img == nil {
		return llm.ContentPart{}, fmt.Errorf("image is required")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return llm.ContentPart{}, fmt.Errorf("failed to encode image: %w", err)
	}
	return llm.NewImagePart("image/png", buf.Bytes()), nil
}

// ImageDimensions returns the maximum width, height and total pixel count of
// images sent to the API.
func ImageDimensions() (width, height, maxPixels int) {
	return MaxImageWidth, MaxImageHeight, MaxImagePixels
}
