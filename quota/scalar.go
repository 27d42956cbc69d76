package quota

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scalar is a limit written either as a string ("50M", "5s") or as a bare
// number. Numbers keep their literal text.
type Scalar string

func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: limit must be a string or a number", node.Line)
	}
	*s = Scalar(node.Value)
	return nil
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = Scalar(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit must be a string or a number, got %s", data)
	}
	*s = Scalar(n)
	return nil
}

// Count is an integer limit, also accepted as a numeric string ("100").
type Count int

func (c *Count) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: count must be an integer", node.Line)
	}
	return c.parse(node.Value)
}

func (c *Count) UnmarshalJSON(data []byte) error {
	var s Scalar
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	return c.parse(string(s))
}

func (c *Count) parse(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid count %q", s)
	}
	*c = Count(n)
	return nil
}

func (c *Count) ptr() *int {
	if c == nil {
		return nil
	}
	n := int(*c)
	return &n
}
