package feedparser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// trimPrologue drops a byte order mark and anything before the first '<'.
func trimPrologue(content []byte) []byte {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if i := bytes.IndexByte(content, '<'); i > 0 {
		content = content[i:]
	}
	return content
}

// parseLenient runs parse and, when the document breaks off part way, runs it
// once more on the part that was complete.
func parseLenient[T any](content []byte, parse func(io.Reader) (T, error)) (T, error) {
	out, err := parse(bytes.NewReader(content))
	if err == nil {
		return out, nil
	}
	if repaired, ok := closeTruncated(content); ok {
		if again, rerr := parse(bytes.NewReader(repaired)); rerr == nil {
			return again, nil
		}
	}
	return out, err
}

type xmlScan struct {
	names  map[string]bool
	open   []xml.Name
	offset int64
}

// scanXML walks the raw token stream. offset is the end of the last token
// that was read completely.
func scanXML(content []byte) xmlScan {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	// Offsets index into content, so the declared charset is left unconverted.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	s := xmlScan{names: make(map[string]bool)}
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return s
		}
		switch t := tok.(type) {
		case xml.StartElement:
			s.names[strings.ToLower(t.Name.Local)] = true
			s.open = append(s.open, t.Name)
		case xml.EndElement:
			if len(s.open) > 0 {
				s.open = s.open[:len(s.open)-1]
			}
		}
		s.offset = dec.InputOffset()
	}
}

func hasElement(content []byte, name string) bool {
	return scanXML(content).names[name]
}

// closeTruncated cuts content back to its last complete token and closes the
// elements still open there.
func closeTruncated(content []byte) ([]byte, bool) {
	s := scanXML(content)
	if len(s.open) == 0 || s.offset == 0 {
		return nil, false
	}

	var b bytes.Buffer
	b.Write(content[:s.offset])
	for i := len(s.open) - 1; i >= 0; i-- {
		b.WriteString("</")
		if s.open[i].Space != "" {
			b.WriteString(s.open[i].Space)
			b.WriteString(":")
		}
		b.WriteString(s.open[i].Local)
		b.WriteString(">")
	}
	return b.Bytes(), true
}
