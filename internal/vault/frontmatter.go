package vault

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/kira/internal/datetime"
)

// ErrMalformed is returned for files that are not valid
// Markdown-with-frontmatter documents.
var ErrMalformed = errors.New("vault: malformed entity file")

const fence = "---"

// EncodeDocument serializes frontmatter and body into the canonical on-disk
// form. The encoding is deterministic: identical logical content yields
// byte-identical files.
//
//   - frontmatter keys sorted alphabetically at every nesting level
//   - LF line endings
//   - timestamps rendered as ISO-8601 UTC with a +00:00 offset
//   - trailing newline required
func EncodeDocument(frontmatter map[string]any, content string) ([]byte, error) {
	fm, err := encodeFrontmatter(frontmatter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(fence)
	buf.WriteByte('\n')
	buf.Write(fm)
	buf.WriteString(fence)
	buf.WriteByte('\n')

	body := strings.ReplaceAll(content, "\r\n", "\n")
	if body != "" {
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// DecodeDocument parses a canonical document into frontmatter and body.
// Files without a leading fence or with unparseable YAML are rejected with
// ErrMalformed.
func DecodeDocument(data []byte) (map[string]any, string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, fence+"\n") {
		return nil, "", fmt.Errorf("%w: missing frontmatter fence", ErrMalformed)
	}
	rest := text[len(fence)+1:]
	idx := strings.Index(rest, "\n"+fence+"\n")
	var yamlPart, body string
	switch {
	case strings.HasPrefix(rest, fence+"\n"):
		// Empty frontmatter block.
		yamlPart = ""
		body = rest[len(fence)+1:]
	case idx >= 0:
		yamlPart = rest[:idx+1]
		body = rest[idx+len(fence)+2:]
	case strings.HasSuffix(rest, "\n"+fence):
		yamlPart = rest[:len(rest)-len(fence)]
		body = ""
	default:
		return nil, "", fmt.Errorf("%w: unterminated frontmatter", ErrMalformed)
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(yamlPart), &raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return normalizeMap(raw), body, nil
}

func encodeFrontmatter(m map[string]any) ([]byte, error) {
	node, err := toNode(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toNode builds a yaml.Node tree with map keys sorted at every level, which
// fixes the serialization order independent of Go map iteration.
func toNode(v any) (*yaml.Node, error) {
	switch val := v.(type) {
	case map[string]any:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
			valNode, err := toNode(val[k])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, keyNode, valNode)
		}
		return node, nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range val {
			itemNode, err := toNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, itemNode)
		}
		return node, nil
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return toNode(items)
	case time.Time:
		return timestampNode(datetime.FormatCanonical(val)), nil
	case string:
		// Canonical timestamps are emitted as plain scalars. A plain
		// timestamp resolves to !!timestamp, so tagging it !!str would
		// force quoting and break the canonical form.
		if _, err := time.Parse(datetime.CanonicalLayout, val); err == nil {
			return timestampNode(val), nil
		}
		node := &yaml.Node{}
		if err := node.Encode(val); err != nil {
			return nil, err
		}
		return node, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(v); err != nil {
			return nil, err
		}
		return node, nil
	}
}

func timestampNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!timestamp", Value: value}
}

// normalizeMap converts decoded YAML values into the in-memory metadata
// form: nested maps keyed by string, time values as canonical strings.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case time.Time:
		return datetime.FormatCanonical(val)
	default:
		return v
	}
}
