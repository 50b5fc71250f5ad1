package httpclient

import (
	nethttp "net/http"
	"strconv"
	"time"
)

const defaultMaxPayloadLogBytes = 1024

// logRequest records an outbound request at info level, plus headers and a body
// preview at debug level when payload logging is enabled.
func (c *Client) logRequest(req *nethttp.Request, body []byte, requestID string) {
	event := c.logger.Info().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("request_id", requestID)
	if n := len(req.Header); n > 0 {
		event = event.Int("header_count", n)
	}
	if len(body) > 0 {
		event = event.Int("body_size", len(body))
	}
	event.Msg("outbound request")

	if !c.config.LogPayloads {
		return
	}
	preview, truncated := c.preview(body)
	c.logger.Debug().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("request_id", requestID).
		Interface("headers", req.Header).
		Int("body_size", len(body)).
		Str("body_truncated", strconv.FormatBool(truncated)).
		Bytes("body_preview", preview).
		Msg("outbound request")
}

// logResponse records the settled exchange. Status 0 is logged at warn level with the cause.
func (c *Client) logResponse(req *nethttp.Request, status int, body []byte, elapsed time.Duration, requestID string, err error) {
	if status == 0 {
		c.logger.Warn().
			Err(err).
			Str("direction", "inbound").
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Str("request_id", requestID).
			Dur("elapsed", elapsed).
			Msg("outbound request failed")
		return
	}

	event := c.logger.Info().
		Str("direction", "inbound").
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("request_id", requestID).
		Int("status", status).
		Dur("elapsed", elapsed)
	if len(body) > 0 {
		event = event.Int("body_size", len(body))
	}
	event.Msg("inbound response")

	if !c.config.LogPayloads {
		return
	}
	preview, truncated := c.preview(body)
	c.logger.Debug().
		Str("direction", "inbound").
		Str("request_id", requestID).
		Int("body_size", len(body)).
		Str("body_truncated", strconv.FormatBool(truncated)).
		Bytes("body_preview", preview).
		Msg("inbound response")
}

func (c *Client) preview(body []byte) ([]byte, bool) {
	limit := c.config.MaxPayloadLogBytes
	if limit <= 0 {
		limit = defaultMaxPayloadLogBytes
	}
	if len(body) > limit {
		return body[:limit], true
	}
	return body, false
}
