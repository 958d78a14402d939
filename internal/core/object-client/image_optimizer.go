package objectclient

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
)

// optimizeImage re-encodes JPEG and PNG payloads as JPEG at quality and keeps
// the result only when it is smaller. Anything it cannot decode is returned as is.
func optimizeImage(data []byte, contentType string, quality int) ([]byte, string) {
	if contentType != "image/jpeg" && contentType != "image/jpg" && contentType != "image/png" {
		return data, contentType
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, contentType
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return data, contentType
	}
	if buf.Len() >= len(data) {
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}
