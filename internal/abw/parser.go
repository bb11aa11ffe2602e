package abw

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

var legacyNamespaces = []struct {
	from string
	to   string
}{
	{from: "http://services.agresso.com/schema/ABWTransaction/2007/12/24", to: Namespace},
	{from: "http://services.agresso.com/schema/ABWTransaction/2009/05/01", to: Namespace},
	{from: "http://services.agresso.com/schema/ABWSchemaLib/2007/12/24", to: SchemaLibNamespace},
	{from: "http://services.agresso.com/schema/ABWSchemaLib/2009/05/01", to: SchemaLibNamespace},
}

// ErrEmptyDocument is the reason attached when the input has no content.
var ErrEmptyDocument = errors.New("abw: document is empty")

// MalformedInputError reports input that cannot be read as an ABWTransaction export.
type MalformedInputError struct {
	Line   int
	Column int
	Reason string
	err    error
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("abw: malformed input at line %d, column %d: %s", e.Line, e.Column, e.Reason)
	}
	return "abw: malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error {
	return e.err
}

// Normalize rewrites legacy namespace URIs to the current schema version.
func Normalize(raw string) string {
	for _, ns := range legacyNamespaces {
		raw = strings.ReplaceAll(raw, ns.from, ns.to)
	}
	return raw
}

// Parse normalizes and decodes raw export text.
func Parse(raw string) (*Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &MalformedInputError{Reason: ErrEmptyDocument.Error(), err: ErrEmptyDocument}
	}
	dec := xml.NewDecoder(bytes.NewReader([]byte(Normalize(raw))))
	dec.Strict = true
	dec.CharsetReader = charsetReader

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, malformed(dec, errors.New("no root element"))
			}
			return nil, malformed(dec, err)
		}
		switch t := tok.(type) {
		case xml.Directive:
			if bytes.HasPrefix(bytes.TrimSpace(t), []byte("DOCTYPE")) {
				return nil, malformed(dec, errors.New("DOCTYPE declarations are not allowed"))
			}
		case xml.StartElement:
			if t.Name.Local != RootElement || t.Name.Space != Namespace {
				return nil, malformed(dec, fmt.Errorf("unexpected root element {%s}%s", t.Name.Space, t.Name.Local))
			}
			var doc Document
			if err := dec.DecodeElement(&doc, &t); err != nil {
				return nil, malformed(dec, err)
			}
			return &doc, nil
		}
	}
}

func malformed(dec *xml.Decoder, err error) *MalformedInputError {
	line, col := dec.InputPos()
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		line = syntaxErr.Line
	}
	return &MalformedInputError{Line: line, Column: col, Reason: err.Error(), err: err}
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
