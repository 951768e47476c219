package toon

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/modelgate/modelgate/internal/domain/contextshape"
)

const indentStep = "  "

// Encoder renders decoded JSON values in Token-Oriented Object Notation:
// objects become indented key/value lines, primitive arrays render inline,
// and arrays of uniform objects collapse into one header row plus
// comma-separated data rows. Output is deterministic; map keys are sorted.
type Encoder struct{}

var _ contextshape.Encoder = (*Encoder)(nil)

func New() *Encoder { return &Encoder{} }

// Encode renders v. Values outside the decoded-JSON family are passed
// through encoding/json first, so any marshalable value encodes.
func (e *Encoder) Encode(v any) (string, error) {
	v, err := normalise(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := writeRoot(&sb, v); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func normalise(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, json.Number, map[string]any, []any:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toon: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("toon: %w", err)
	}
	return decoded, nil
}

func writeRoot(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return writeObjectBody(sb, val, 0)
	case []any:
		return writeArray(sb, "", val, 1)
	default:
		s, err := scalar(v)
		if err != nil {
			return err
		}
		sb.WriteString(s)
		sb.WriteString("\n")
		return nil
	}
}

func writeObjectBody(sb *strings.Builder, m map[string]any, depth int) error {
	indent := strings.Repeat(indentStep, depth)
	for _, key := range sortedKeys(m) {
		switch val := m[key].(type) {
		case map[string]any:
			sb.WriteString(indent + encodeKey(key) + ":\n")
			if err := writeObjectBody(sb, val, depth+1); err != nil {
				return err
			}
		case []any:
			if err := writeArray(sb, indent+encodeKey(key), val, depth+1); err != nil {
				return err
			}
		default:
			s, err := scalar(val)
			if err != nil {
				return err
			}
			sb.WriteString(indent + encodeKey(key) + ": " + s + "\n")
		}
	}
	return nil
}

// writeArray renders arr after label, which already carries the leading
// indentation (or a list-item marker). Nested rows land at depth.
func writeArray(sb *strings.Builder, label string, arr []any, depth int) error {
	if len(arr) == 0 {
		sb.WriteString(fmt.Sprintf("%s[0]:\n", label))
		return nil
	}
	if allPrimitive(arr) {
		cells := make([]string, len(arr))
		for i, item := range arr {
			s, err := scalar(item)
			if err != nil {
				return err
			}
			cells[i] = s
		}
		sb.WriteString(fmt.Sprintf("%s[%d]: %s\n", label, len(arr), strings.Join(cells, ",")))
		return nil
	}
	indent := strings.Repeat(indentStep, depth)
	if fields, ok := tabularFields(arr); ok {
		header := make([]string, len(fields))
		for i, f := range fields {
			header[i] = encodeKey(f)
		}
		sb.WriteString(fmt.Sprintf("%s[%d]{%s}:\n", label, len(arr), strings.Join(header, ",")))
		for _, item := range arr {
			m := item.(map[string]any)
			cells := make([]string, len(fields))
			for i, f := range fields {
				s, err := scalar(m[f])
				if err != nil {
					return err
				}
				cells[i] = s
			}
			sb.WriteString(indent + strings.Join(cells, ",") + "\n")
		}
		return nil
	}
	sb.WriteString(fmt.Sprintf("%s[%d]:\n", label, len(arr)))
	for _, item := range arr {
		if err := writeListItem(sb, item, depth); err != nil {
			return err
		}
	}
	return nil
}

func writeListItem(sb *strings.Builder, v any, depth int) error {
	marker := strings.Repeat(indentStep, depth) + "- "
	switch item := v.(type) {
	case map[string]any:
		if len(item) == 0 {
			sb.WriteString(strings.Repeat(indentStep, depth) + "-\n")
			return nil
		}
		// Render the object one level deeper, then swap the first
		// line's indentation for the dash marker. Both are two chars,
		// so the remaining fields stay column-aligned.
		var tmp strings.Builder
		if err := writeObjectBody(&tmp, item, depth+1); err != nil {
			return err
		}
		sb.WriteString(marker + tmp.String()[len(marker):])
		return nil
	case []any:
		return writeArray(sb, marker, item, depth+1)
	default:
		s, err := scalar(v)
		if err != nil {
			return err
		}
		sb.WriteString(marker + s + "\n")
		return nil
	}
}

// tabularFields reports whether every element is an object with the same
// primitive-valued key set, returning those keys in sorted order.
func tabularFields(arr []any) ([]string, bool) {
	first, ok := arr[0].(map[string]any)
	if !ok || len(first) == 0 {
		return nil, false
	}
	fields := sortedKeys(first)
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok || len(m) != len(fields) {
			return nil, false
		}
		for _, f := range fields {
			v, present := m[f]
			if !present || !isPrimitive(v) {
				return nil, false
			}
		}
	}
	return fields, true
}

func allPrimitive(arr []any) bool {
	for _, item := range arr {
		if !isPrimitive(item) {
			return false
		}
	}
	return true
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

func scalar(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(val), nil
	case string:
		return quoteString(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("toon: cannot encode non-finite number")
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case json.Number:
		return val.String(), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return "", fmt.Errorf("toon: cannot encode %T", v)
	}
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// quoteString leaves plain words bare and quotes anything a decoder could
// misread: empty strings, surrounding whitespace, structural characters,
// literals, and number lookalikes.
func quoteString(s string) string {
	if needsQuoting(s) {
		return `"` + stringEscaper.Replace(s) + `"`
	}
	return s
}

func needsQuoting(s string) bool {
	if s == "" || s != strings.TrimSpace(s) {
		return true
	}
	switch s {
	case "true", "false", "null", "-":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if strings.HasPrefix(s, "- ") {
		return true
	}
	return strings.ContainsAny(s, ",:\"\n\r\t{}[]")
}

func encodeKey(k string) string {
	if k == "" {
		return `""`
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return `"` + stringEscaper.Replace(k) + `"`
		}
	}
	return k
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
