package utils

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
)

// DecodeResponseBody returns the response body decoded according to its
// Content-Encoding header. Unknown encodings come back verbatim.
func DecodeResponseBody(resp *fasthttp.Response) ([]byte, error) {
	encoding := string(resp.Header.ContentEncoding())

	switch encoding {
	case "gzip":
		return resp.BodyGunzip()
	case "br":
		reader := brotli.NewReader(bytes.NewReader(resp.Body()))
		return io.ReadAll(reader)
	case "deflate":
		return resp.BodyInflate()
	default:
		body := resp.Body()
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
}
