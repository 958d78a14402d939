package core

import "context"

// TextExtractor pulls the text layer out of a stored document.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}
