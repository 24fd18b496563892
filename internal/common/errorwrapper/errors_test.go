package errorwrapper

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolError(t *testing.T) {
	err := NewProtocolError("listing", "unexpected payload shape", io.ErrUnexpectedEOF)

	assert.Equal(t, "protocol error during listing: unexpected payload shape: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsProtocolError(fmt.Errorf("crawl: %w", err)))
	assert.False(t, IsDownloadError(err))
}

func TestDownloadError(t *testing.T) {
	err := NewDownloadError(7, "https://example.test/Download?path=/a.zip", "member escapes destination", ErrUnsafeArchive)

	assert.Contains(t, err.Error(), "item 7")
	assert.Contains(t, err.Error(), "member escapes destination")
	assert.True(t, errors.Is(err, ErrUnsafeArchive))
	assert.True(t, IsDownloadError(WrapError(err, "sync")))
}

func TestWrapError_Nil(t *testing.T) {
	assert.EqualError(t, WrapError(nil, "context"), "context: <nil>")
}

func TestHTTPError(t *testing.T) {
	assert.Equal(t, "HTTP 503 error: busy", (&HTTPError{StatusCode: 503, Message: "busy"}).Error())
	assert.Contains(t, NewHTTPErrorWithURL(404, "missing", "http://x").Error(), "http://x")
}
