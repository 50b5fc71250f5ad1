package dispatcher

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"strings"
)

// Action is a registered callback. A returned error, like a panic, is routed
// to the InternalError pool.
type Action func(call *Call) error

// Call is the execution context handed to one callback invocation. It is
// built fresh for every invocation.
type Call struct {
	Category   Category
	CallbackID string

	Status int
	// Response is the raw response body.
	Response string
	// XMLResponse is set when the response declares an XML content type and parses.
	XMLResponse *XMLNode
	// JSONResponse is the decoded body, or nil when the body is not JSON.
	JSONResponse any
	// ResponseHeaders maps canonical header names to their comma-joined values.
	ResponseHeaders map[string]string

	URL        string
	Dispatcher *Dispatcher
	// Err is the failure that caused an InternalError dispatch, or the transport
	// cause of a Disconnected dispatch.
	Err error
	// Props holds the entry's own props merged with every applicable binding.
	Props map[string]any
	// Attempt counts reissues of the request that produced this response.
	Attempt int

	ctx context.Context
}

// Context returns the context the request was sent with.
func (c *Call) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Prop returns a merged prop by name.
func (c *Call) Prop(name string) (any, bool) {
	v, ok := c.Props[name]
	return v, ok
}

// DecodeJSON unmarshals the response body into v.
func (c *Call) DecodeJSON(v any) error {
	return json.Unmarshal([]byte(c.Response), v)
}

// reservedProps are context fields that props and bindings never overwrite.
var reservedProps = map[string]struct{}{
	"status":          {},
	"response":        {},
	"xmlResponse":     {},
	"jsonResponse":    {},
	"responseHeaders": {},
	"error":           {},
	"dispatcher":      {},
}

// IsReservedProp reports whether name is one of the context fields that
// props and bindings cannot set.
func IsReservedProp(name string) bool {
	_, ok := reservedProps[name]
	return ok
}

// XMLNode is a generic element tree decoded from an XML response.
type XMLNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []XMLNode  `xml:",any"`
}

// Attr returns the value of the attribute with the given local name.
func (n *XMLNode) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Find returns the first descendant element with the given local name.
func (n *XMLNode) Find(local string) *XMLNode {
	for i := range n.Children {
		child := &n.Children[i]
		if child.XMLName.Local == local {
			return child
		}
		if found := child.Find(local); found != nil {
			return found
		}
	}
	return nil
}

func isXMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	return ct == "text/xml" || ct == "application/xml" || strings.HasSuffix(ct, "+xml")
}

func parseXML(body string) (*XMLNode, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("empty body")
	}
	var root XMLNode
	if err := xml.Unmarshal([]byte(body), &root); err != nil {
		return nil, err
	}
	return &root, nil
}

func parseJSON(body string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}
