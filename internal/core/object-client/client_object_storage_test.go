package objectclient

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	now := time.UnixMilli(1735689600123)

	cases := []struct {
		name, root, folder, in, want string
	}{
		{"plain", "diagnovet/reports", folderDocuments, "informe.pdf", "diagnovet/reports/documents/1735689600123_informe.pdf"},
		{"spaces and accents", "diagnovet/reports", folderImages, "rx tórax (1).png", "diagnovet/reports/images/1735689600123_rx_t_rax_1_.png"},
		{"strips directories", "root", folderDocuments, `C:\tmp\scan.pdf`, "root/documents/1735689600123_scan.pdf"},
		{"empty name", "root", folderDocuments, "", "root/documents/1735689600123_file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := objectKey(tc.root, tc.folder, tc.in, now); got != tc.want {
				t.Fatalf("objectKey = %q want %q", got, tc.want)
			}
		})
	}
}

func TestPublicURL(t *testing.T) {
	if got := publicURL("https://cdn.example.com", "", "b", "us-east-1", "k/x.pdf"); got != "https://cdn.example.com/k/x.pdf" {
		t.Fatalf("public base: %q", got)
	}
	if got := publicURL("", "http://minio:9000", "b", "us-east-1", "k/x.pdf"); got != "http://minio:9000/b/k/x.pdf" {
		t.Fatalf("endpoint: %q", got)
	}
	if got := publicURL("", "", "b", "sa-east-1", "k/x.pdf"); got != "https://b.s3.sa-east-1.amazonaws.com/k/x.pdf" {
		t.Fatalf("aws: %q", got)
	}
}

func noisyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	seed := uint32(7)
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{uint8(seed >> 24), uint8(seed >> 16), uint8(seed >> 8), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestOptimizeImage(t *testing.T) {
	t.Run("large png becomes jpeg", func(t *testing.T) {
		in := noisyPNG(t)
		out, ct := optimizeImage(in, "image/png", 60)
		if ct != "image/jpeg" {
			t.Fatalf("content type = %q", ct)
		}
		if len(out) >= len(in) {
			t.Fatalf("expected smaller output, %d >= %d", len(out), len(in))
		}
	})

	t.Run("undecodable payload is untouched", func(t *testing.T) {
		in := []byte("not an image")
		out, ct := optimizeImage(in, "image/png", 60)
		if ct != "image/png" || !bytes.Equal(out, in) {
			t.Fatalf("payload changed: %q %q", ct, out)
		}
	})

	t.Run("non image types pass through", func(t *testing.T) {
		in := []byte("%PDF-1.4")
		out, ct := optimizeImage(in, "application/pdf", 60)
		if ct != "application/pdf" || !strings.HasPrefix(string(out), "%PDF") {
			t.Fatalf("pdf changed")
		}
	})
}
