package resources

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadError reports a resource that could not be opened or read.
type ReadError struct {
	Location string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read resource %s: %v", e.Location, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadString reads the resource at location as UTF-8 text.
func ReadString(ctx context.Context, p Provider, location string) (string, error) {
	rc, err := p.Open(ctx, location)
	if err != nil {
		return "", &ReadError{Location: location, Err: err}
	}
	defer func(rc io.ReadCloser) {
		_ = rc.Close()
	}(rc)

	text, err := DecodeUTF8(rc)
	if err != nil {
		return "", &ReadError{Location: location, Err: err}
	}
	return text, nil
}

// DecodeUTF8 reads r to the end, dropping a leading byte order mark and
// replacing ill-formed sequences with U+FFFD.
func DecodeUTF8(r io.Reader) (string, error) {
	b, err := io.ReadAll(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
