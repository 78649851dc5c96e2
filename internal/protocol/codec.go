package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

// indent is used for every response document.
const indent = "    "

// DecodeRequest reads r to EOF and parses it as a request envelope.
// Returns an error wrapping ErrMalformedInput if the input is not UTF-8, not a JSON
// object, or if source, params or version is present but not an object.
func DecodeRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return ParseRequest(data)
}

// ParseRequest parses raw bytes as a request envelope. See DecodeRequest.
func ParseRequest(data []byte) (*Request, error) {
	// encoding/json would silently replace invalid bytes with U+FFFD.
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrMalformedInput)
	}
	var sections map[string]json.RawMessage
	if err := unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("%w: input json data not well-formed: %v", ErrMalformedInput, err)
	}
	if sections == nil {
		return nil, fmt.Errorf("%w: input must be a JSON object", ErrMalformedInput)
	}

	req := &Request{}
	for name, dst := range map[string]*map[string]any{
		"source":  &req.Source,
		"params":  &req.Params,
		"version": &req.Version,
	} {
		m, err := decodeSection(sections[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %q must be an object: %v", ErrMalformedInput, name, err)
		}
		*dst = m
	}

	return req, nil
}

func decodeSection(raw json.RawMessage) (map[string]any, error) {
	m := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return m, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("got %s", jsonKind(trimmed[0]))
	}
	if err := unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// unmarshal decodes a single JSON value, keeping numbers as json.Number so they
// round-trip unchanged.
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

func jsonKind(c byte) string {
	switch c {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

// MarshalResponse serializes v as indented JSON followed by a newline.
func MarshalResponse(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", indent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeResponse writes v to w as a single JSON document in one Write call,
// so readers never observe a partial document.
func EncodeResponse(w io.Writer, v any) error {
	data, err := MarshalResponse(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// Truncate shortens s to at most n bytes for log context.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
