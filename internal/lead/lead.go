package lead

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is a single named attribute of a lead.
type Field struct {
	Name  string
	Value string
}

// Lead is one candidate record being ranked. Records are schema-free: field
// names vary by source (role/title, company, industry, size bracket, links),
// so a lead is kept as an ordered field list instead of a fixed struct.
type Lead []Field

// Get returns the first value stored under the exact field name.
func (l Lead) Get(name string) string {
	for _, f := range l {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// UnmarshalJSON decodes a JSON object into a Lead, preserving key order.
// Standard map decoding would lose the source ordering, which matters for
// the text projection.
func (l *Lead) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("lead must be a JSON object, got %v", tok)
	}

	fields := make(Lead, 0, 8)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected lead key token: %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}

		fields = append(fields, Field{Name: key, Value: stringify(value)})
	}

	*l = fields
	return nil
}

// MarshalJSON encodes the lead back into a JSON object in field order.
func (l Lead) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
