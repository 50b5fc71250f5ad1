package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// readBody reads the response body, decoding gzip, deflate and br payloads.
// When a payload is decoded the encoding headers are removed from resp.Header.
func readBody(resp *nethttp.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	var r io.Reader
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return io.ReadAll(resp.Body)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", encoding, err)
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return body, nil
}
