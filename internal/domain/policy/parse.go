package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseError describes the first malformed construct found in a policy
// document. Parsing is fail-fast: one error, at the offending rule.
type ParseError struct {
	// RuleIndex is the zero-based index of the offending rule, or -1 when
	// the problem is outside any rule (e.g. the document envelope).
	RuleIndex int
	// Field is the offending field name, when known.
	Field string
	// Expected describes the expected type or value set.
	Expected string
	// Message is the full human-readable description.
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

func parseErrf(ruleIndex int, field, expected, format string, args ...any) *ParseError {
	return &ParseError{
		RuleIndex: ruleIndex,
		Field:     field,
		Expected:  expected,
		Message:   fmt.Sprintf(format, args...),
	}
}

// document is the YAML envelope: a version plus a list of tagged rules.
// Rules are kept as raw nodes so each can be decoded with exact type checks
// instead of YAML's permissive coercion.
type document struct {
	Version  string      `yaml:"version"`
	Policies []yaml.Node `yaml:"policies"`
}

// Parse turns configuration text into a Policy or a *ParseError. It rejects
// unknown rule type tags, missing required fields, and wrong value types,
// and never coerces or defaults an invalid value.
func Parse(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, parseErrf(-1, "", "YAML document", "invalid policy document: %v", err)
	}
	if doc.Version == "" {
		return nil, parseErrf(-1, "version", "string", "missing required field %q", "version")
	}
	if len(doc.Policies) == 0 {
		return nil, parseErrf(-1, "policies", "non-empty rule list", "policy must contain at least one rule")
	}

	rules := make([]Rule, 0, len(doc.Policies))
	for i, node := range doc.Policies {
		rule, err := parseRule(i, &node)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &Policy{Version: doc.Version, Rules: rules}, nil
}

// parseRule decodes one rule mapping, dispatching on the "type" tag.
func parseRule(index int, node *yaml.Node) (Rule, error) {
	fields, err := mappingFields(index, node)
	if err != nil {
		return nil, err
	}

	typeNode, ok := fields["type"]
	if !ok {
		return nil, parseErrf(index, "type", "string", "rule %d: missing required field %q", index, "type")
	}
	typeTag, err := stringField(index, "type", typeNode)
	if err != nil {
		return nil, err
	}

	switch RuleType(typeTag) {
	case RuleTypeAllowlist:
		field, values, err := parseListFields(index, fields)
		if err != nil {
			return nil, err
		}
		return Allowlist{Field: field, Values: values}, nil
	case RuleTypeDenylist:
		field, values, err := parseListFields(index, fields)
		if err != nil {
			return nil, err
		}
		return Denylist{Field: field, Values: values}, nil
	case RuleTypeRateLimit:
		maxRequests, err := requiredUint(index, "max_requests", fields)
		if err != nil {
			return nil, err
		}
		window, err := requiredUint(index, "window_seconds", fields)
		if err != nil {
			return nil, err
		}
		return RateLimit{MaxRequests: maxRequests, WindowSeconds: window}, nil
	case RuleTypeSpendingCap:
		maxAmount, err := requiredFloat(index, "max_amount", fields)
		if err != nil {
			return nil, err
		}
		currency, err := requiredString(index, "currency", fields)
		if err != nil {
			return nil, err
		}
		window, err := requiredUint(index, "window_seconds", fields)
		if err != nil {
			return nil, err
		}
		return SpendingCap{MaxAmount: maxAmount, Currency: currency, WindowSeconds: window}, nil
	}

	return nil, parseErrf(index, "type", "allowlist|denylist|rate_limit|spending_cap",
		"rule %d: unknown rule type %q", index, typeTag)
}

// parseListFields decodes the shared shape of allowlist and denylist rules.
func parseListFields(index int, fields map[string]*yaml.Node) (Field, []string, error) {
	name, err := requiredString(index, "field", fields)
	if err != nil {
		return "", nil, err
	}
	field := Field(name)
	known := false
	for _, f := range KnownFields {
		if f == field {
			known = true
			break
		}
	}
	if !known {
		return "", nil, parseErrf(index, "field", "agent_id|wallet_address|ip_address",
			"rule %d: unknown field %q", index, name)
	}

	node, ok := fields["values"]
	if !ok {
		return "", nil, parseErrf(index, "values", "string list",
			"rule %d: missing required field %q", index, "values")
	}
	if node.Kind != yaml.SequenceNode {
		return "", nil, parseErrf(index, "values", "string list",
			"rule %d: field %q must be a list of strings", index, "values")
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		v, err := stringField(index, "values", item)
		if err != nil {
			return "", nil, err
		}
		values = append(values, v)
	}
	return field, values, nil
}

// mappingFields returns the key/value nodes of a rule mapping, rejecting
// non-mapping rules and duplicate keys.
func mappingFields(index int, node *yaml.Node) (map[string]*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, parseErrf(index, "", "mapping", "rule %d: must be a mapping", index)
	}
	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, dup := fields[key]; dup {
			return nil, parseErrf(index, key, "unique key", "rule %d: duplicate field %q", index, key)
		}
		fields[key] = node.Content[i+1]
	}
	return fields, nil
}

func requiredString(index int, name string, fields map[string]*yaml.Node) (string, error) {
	node, ok := fields[name]
	if !ok {
		return "", parseErrf(index, name, "string", "rule %d: missing required field %q", index, name)
	}
	return stringField(index, name, node)
}

func stringField(index int, name string, node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode || node.Tag != "!!str" {
		return "", parseErrf(index, name, "string",
			"rule %d: field %q must be a string, got %s", index, name, describeNode(node))
	}
	return node.Value, nil
}

func requiredUint(index int, name string, fields map[string]*yaml.Node) (uint64, error) {
	node, ok := fields[name]
	if !ok {
		return 0, parseErrf(index, name, "positive integer",
			"rule %d: missing required field %q", index, name)
	}
	if node.Kind != yaml.ScalarNode || node.Tag != "!!int" {
		return 0, parseErrf(index, name, "positive integer",
			"rule %d: field %q must be a positive integer, got %s", index, name, describeNode(node))
	}
	var v uint64
	if err := node.Decode(&v); err != nil || v == 0 {
		return 0, parseErrf(index, name, "positive integer",
			"rule %d: field %q must be a positive integer, got %q", index, name, node.Value)
	}
	return v, nil
}

func requiredFloat(index int, name string, fields map[string]*yaml.Node) (float64, error) {
	node, ok := fields[name]
	if !ok {
		return 0, parseErrf(index, name, "number",
			"rule %d: missing required field %q", index, name)
	}
	if node.Kind != yaml.ScalarNode || (node.Tag != "!!float" && node.Tag != "!!int") {
		return 0, parseErrf(index, name, "number",
			"rule %d: field %q must be a number, got %s", index, name, describeNode(node))
	}
	var v float64
	if err := node.Decode(&v); err != nil {
		return 0, parseErrf(index, name, "number",
			"rule %d: field %q must be a number, got %q", index, name, node.Value)
	}
	return v, nil
}

// describeNode names a YAML node's type for error messages.
func describeNode(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!str":
			return fmt.Sprintf("string %q", node.Value)
		case "!!int":
			return fmt.Sprintf("integer %s", node.Value)
		case "!!float":
			return fmt.Sprintf("float %s", node.Value)
		case "!!bool":
			return fmt.Sprintf("boolean %s", node.Value)
		case "!!null":
			return "null"
		}
		return fmt.Sprintf("scalar %q", node.Value)
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	}
	return "unknown value"
}
