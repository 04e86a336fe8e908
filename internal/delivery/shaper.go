package delivery

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"regexp"
	"strings"
)

// whitespaceRun matches runs of whitespace for collapsing.
var whitespaceRun = regexp.MustCompile(`\s+`)

// DefaultStripFields are payload fields dropped on constrained links.
// They carry debugging context, not delivery-relevant content.
var DefaultStripFields = []string{
	"debug", "trace_id", "client_meta", "raw_context", "annotations",
}

// DefaultPhrases is the fixed phrase-shortening dictionary applied to
// string values on constrained links. Longest phrases first so that
// overlapping entries shorten deterministically.
var DefaultPhrases = []PhrasePair{
	{"as soon as possible", "ASAP"},
	{"for your information", "FYI"},
	{"out of stock", "OOS"},
	{"point of sale", "POS"},
	{"with regard to", "re"},
}

// PhrasePair is one dictionary entry.
type PhrasePair struct {
	Phrase string
	Short  string
}

// Shaper reduces payload size for poor links: strips non-essential
// fields, collapses whitespace runs, and applies the phrase dictionary.
type Shaper struct {
	strip   map[string]struct{}
	phrases []PhrasePair
}

// NewShaper builds a shaper. Nil arguments select the defaults.
func NewShaper(stripFields []string, phrases []PhrasePair) *Shaper {
	if stripFields == nil {
		stripFields = DefaultStripFields
	}
	if phrases == nil {
		phrases = DefaultPhrases
	}
	strip := make(map[string]struct{}, len(stripFields))
	for _, f := range stripFields {
		strip[f] = struct{}{}
	}
	return &Shaper{strip: strip, phrases: phrases}
}

// Shape rewrites a JSON payload for a constrained link. Payloads that
// are not JSON objects pass through with only whitespace collapsing on
// the raw bytes.
func (s *Shaper) Shape(payload []byte) []byte {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return []byte(s.shapeText(string(payload)))
	}

	for field := range s.strip {
		delete(doc, field)
	}
	shaped := s.shapeValue(doc)

	out, err := json.Marshal(shaped)
	if err != nil {
		return payload
	}
	return out
}

func (s *Shaper) shapeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.shapeText(val)
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = s.shapeValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = s.shapeValue(inner)
		}
		return val
	default:
		return v
	}
}

func (s *Shaper) shapeText(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	for _, p := range s.phrases {
		text = strings.ReplaceAll(text, p.Phrase, p.Short)
	}
	return text
}

// Compress gzips a payload for transfer.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
