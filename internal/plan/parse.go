package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// Phases keeps trade_phases in document order.
type Phases []Phase

// UnmarshalJSON walks the object token by token so declared order survives.
func (ps *Phases) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*ps = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("trade_phases: expected object")
	}
	var out Phases
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("trade_phases.%s: %w", name, err)
		}
		var p Phase
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("trade_phases.%s: %w", name, err)
		}
		p.Name = name
		out = append(out, p)
	}
	*ps = out
	return nil
}

// MarshalJSON writes phases back as an object in the same order.
func (ps Phases) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := sonic.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		body, err := sonic.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse decodes a plan document without validating it.
func Parse(data []byte) (*TradingPlan, error) {
	var p TradingPlan
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("malformed document: %v", err)}}
	}
	return &p, nil
}

// Load reads, parses and validates the plan at path.
func Load(path string) (*TradingPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}
