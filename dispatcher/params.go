package dispatcher

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Params is the request payload: RawParams, Values or *Form.
type Params interface {
	isParams()
}

// RawParams is sent verbatim: as the query for GET and DELETE, as a
// form-urlencoded body for POST and PUT.
type RawParams string

// Values maps names to scalars, slices or files. Slices are serialized as a
// bracketed literal such as ["a","b"]. A nil value is skipped.
type Values map[string]any

// Form is a pre-built multipart payload sent as is.
type Form struct {
	fields []formField
}

type formField struct {
	name  string
	value string
	file  *File
}

// File is a blob attached natively to a multipart payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ReadFile loads the file at path as a File.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return &File{Name: filepath.Base(path), Data: data}, nil
}

func (RawParams) isParams() {}
func (Values) isParams()    {}
func (*Form) isParams()     {}

// NewForm creates an empty multipart payload.
func NewForm() *Form {
	return &Form{}
}

// Add appends a text field.
func (f *Form) Add(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// AddFile appends a file field.
func (f *Form) AddFile(name string, file *File) *Form {
	f.fields = append(f.fields, formField{name: name, file: file})
	return f
}

// Len returns the number of fields.
func (f *Form) Len() int {
	return len(f.fields)
}

// payload is an encoded request: a query string and/or a body.
type payload struct {
	query       string
	body        []byte
	contentType string
}

const formURLEncoded = "application/x-www-form-urlencoded"

func sendsBody(method string) bool {
	return method == "POST" || method == "PUT"
}

func sendsQuery(method string) bool {
	return method == "GET" || method == "DELETE"
}

// encodeParams renders p for method. skipped receives the names of nil values.
func encodeParams(method string, p Params, skipped func(name string)) (payload, error) {
	switch {
	case sendsBody(method):
		return encodeBody(p, skipped)
	case sendsQuery(method):
		q, err := encodeQuery(p, skipped)
		return payload{query: q}, err
	default:
		// HEAD and OPTIONS carry no payload.
		return payload{}, nil
	}
}

func encodeQuery(p Params, skipped func(string)) (string, error) {
	switch v := p.(type) {
	case nil:
		return "", nil
	case RawParams:
		return string(v), nil
	case *Form:
		if v == nil {
			return "", nil
		}
		parts := make([]string, 0, len(v.fields))
		for _, f := range v.fields {
			if f.file != nil {
				continue
			}
			parts = append(parts, encodeURIComponent(f.name)+"="+encodeURIComponent(f.value))
		}
		return strings.Join(parts, "&"), nil
	case Values:
		parts := make([]string, 0, len(v))
		for _, name := range sortedKeys(v) {
			value := v[name]
			if isNil(value) {
				skipped(name)
				continue
			}
			if _, ok := asFile(value); ok {
				return "", fmt.Errorf("param %q: files cannot be sent in a query string", name)
			}
			s, err := formatValue(value)
			if err != nil {
				return "", fmt.Errorf("param %q: %w", name, err)
			}
			parts = append(parts, encodeURIComponent(name)+"="+encodeURIComponent(s))
		}
		return strings.Join(parts, "&"), nil
	default:
		return "", fmt.Errorf("unsupported params type %T", p)
	}
}

func encodeBody(p Params, skipped func(string)) (payload, error) {
	switch v := p.(type) {
	case nil:
		return payload{contentType: formURLEncoded}, nil
	case RawParams:
		return payload{body: []byte(v), contentType: formURLEncoded}, nil
	case *Form:
		if v == nil {
			return payload{contentType: formURLEncoded}, nil
		}
		return writeMultipart(func(w *multipart.Writer) error {
			for _, f := range v.fields {
				if err := writeField(w, f.name, f.value, f.file); err != nil {
					return err
				}
			}
			return nil
		})
	case Values:
		return writeMultipart(func(w *multipart.Writer) error {
			for _, name := range sortedKeys(v) {
				value := v[name]
				if isNil(value) {
					skipped(name)
					continue
				}
				if file, ok := asFile(value); ok {
					if err := writeField(w, name, "", file); err != nil {
						return err
					}
					continue
				}
				s, err := formatValue(value)
				if err != nil {
					return fmt.Errorf("param %q: %w", name, err)
				}
				if err := writeField(w, name, encodeURIComponent(s), nil); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return payload{}, fmt.Errorf("unsupported params type %T", p)
	}
}

func writeMultipart(fill func(*multipart.Writer) error) (payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := fill(w); err != nil {
		return payload{}, err
	}
	if err := w.Close(); err != nil {
		return payload{}, fmt.Errorf("close multipart body: %w", err)
	}
	return payload{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeField(w *multipart.Writer, name, value string, file *File) error {
	if file == nil {
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("write field %q: %w", name, err)
		}
		return nil
	}

	filename := file.Name
	if filename == "" {
		filename = "blob"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part %q: %w", name, err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("write file part %q: %w", name, err)
	}
	return nil
}

func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func asFile(v any) (*File, bool) {
	switch f := v.(type) {
	case *File:
		return f, true
	case File:
		return &f, true
	}
	return nil, false
}

// formatValue renders a scalar, or a slice as a bracketed literal whose
// string elements are component-encoded and quoted.
func formatValue(v any) (string, error) {
	if s, ok := formatScalar(v); ok {
		return s, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Sprint(v), nil
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
		return string(rv.Bytes()), nil
	}

	var b strings.Builder
	b.WriteByte('[')
	n := 0
	for i := range rv.Len() {
		elem := rv.Index(i).Interface()
		var item string
		switch e := elem.(type) {
		case string:
			item = `"` + encodeURIComponent(e) + `"`
		default:
			s, ok := formatScalar(elem)
			if !ok {
				return "", fmt.Errorf("unsupported element type %T at index %d", elem, i)
			}
			item = s
		}
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(item)
		n++
	}
	b.WriteByte(']')
	return b.String(), nil
}

func formatScalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10), true
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

const upperHex = "0123456789ABCDEF"

// encodeURIComponent percent-encodes every byte outside
// A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
