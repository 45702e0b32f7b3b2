package toolcall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"omni-agent/internal/domain"
)

// ArgKind tells which argument syntax a marker used.
type ArgKind int

const (
	ArgsEmpty ArgKind = iota
	ArgsObject
	ArgsPairs
	ArgsRaw
)

func (k ArgKind) String() string {
	switch k {
	case ArgsEmpty:
		return "empty"
	case ArgsObject:
		return "object"
	case ArgsPairs:
		return "pairs"
	default:
		return "raw"
	}
}

// Args is a parsed marker argument string.
type Args struct {
	Kind ArgKind
	// Object holds the decoded JSON object for ArgsObject.
	Object map[string]any
	// Pairs holds key=value entries in source order for ArgsPairs.
	Pairs []Pair
	// Raw holds the positional value for ArgsRaw.
	Raw string
}

// Pair is one key=value entry.
type Pair struct {
	Key   string
	Value string
}

var pairKey = regexp.MustCompile(`^\s*([A-Za-z_][\w-]*)\s*=`)

// ParseArgs parses a marker argument string. Precedence: empty, JSON object
// (repaired when almost valid), JSON string literal, key=value pairs, raw text.
func ParseArgs(s string) Args {
	s = strings.TrimSpace(s)
	if s == "" {
		return Args{Kind: ArgsEmpty}
	}

	if strings.HasPrefix(s, "{") {
		if obj, ok := decodeObject(s); ok {
			return Args{Kind: ArgsObject, Object: obj}
		}
		if repaired, err := jsonrepair.JSONRepair(s); err == nil {
			if obj, ok := decodeObject(repaired); ok {
				return Args{Kind: ArgsObject, Object: obj}
			}
		}
		return Args{Kind: ArgsRaw, Raw: s}
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err == nil {
			return Args{Kind: ArgsRaw, Raw: str}
		}
	}

	if pairs, ok := parsePairs(s); ok {
		return Args{Kind: ArgsPairs, Pairs: pairs}
	}
	return Args{Kind: ArgsRaw, Raw: s}
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return obj, true
}

// parsePairs splits s on commas outside quotes. The first segment must be
// key=value; later segments without a key continue the previous value.
func parsePairs(s string) ([]Pair, bool) {
	segments := splitOutsideQuotes(s, ',')
	if len(segments) == 0 || !pairKey.MatchString(segments[0]) {
		return nil, false
	}

	var pairs []Pair
	for _, seg := range segments {
		if m := pairKey.FindStringSubmatchIndex(seg); m != nil {
			key := seg[m[2]:m[3]]
			pairs = append(pairs, Pair{Key: key, Value: seg[m[1]:]})
			continue
		}
		last := &pairs[len(pairs)-1]
		last.Value += "," + seg
	}
	for i := range pairs {
		pairs[i].Value = unquote(strings.TrimSpace(pairs[i].Value))
	}
	return pairs, true
}

func splitOutsideQuotes(s string, sep rune) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == sep:
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(parts, cur.String())
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Bind shapes parsed arguments into the JSON payload a tool with the given
// schema expects.
func Bind(a Args, schema domain.ToolSchema) (json.RawMessage, error) {
	if !schema.HasParameters() {
		switch a.Kind {
		case ArgsEmpty:
			return json.RawMessage(`{}`), nil
		case ArgsRaw:
			return json.Marshal(a.Raw)
		case ArgsObject:
			return json.Marshal(a.Object)
		default:
			return json.Marshal(pairMap(a.Pairs, nil))
		}
	}

	props, err := parseProperties(schema.Parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", schema.Name, err)
	}

	switch a.Kind {
	case ArgsEmpty:
		return json.RawMessage(`{}`), nil
	case ArgsObject:
		return json.Marshal(a.Object)
	case ArgsPairs:
		return json.Marshal(pairMap(a.Pairs, props.types))
	default:
		key := props.first()
		if key == "" {
			key = "input"
		}
		return json.Marshal(map[string]any{key: coerce(a.Raw, props.types[key])})
	}
}

func pairMap(pairs []Pair, types map[string]string) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		out[p.Key] = coerce(p.Value, types[p.Key])
	}
	return out
}

// coerce converts a textual value to the JSON type the schema declares.
// Values that do not parse are passed through as strings.
func coerce(v, typ string) any {
	switch typ {
	case "integer":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return v
}

type schemaProps struct {
	order    []string
	required []string
	types    map[string]string
}

// first is the parameter a positional value binds to.
func (p schemaProps) first() string {
	if len(p.required) > 0 {
		return p.required[0]
	}
	if len(p.order) > 0 {
		return p.order[0]
	}
	return ""
}

// parseProperties reads property names in document order, which a map
// decode would lose.
func parseProperties(raw json.RawMessage) (schemaProps, error) {
	var doc struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return schemaProps{}, fmt.Errorf("decode schema: %w", err)
	}
	props := schemaProps{required: doc.Required, types: map[string]string{}}
	if len(doc.Properties) == 0 {
		return props, nil
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Properties))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return props, nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return schemaProps{}, fmt.Errorf("decode schema properties: %w", err)
		}
		name, _ := tok.(string)
		var def struct {
			Type any `json:"type"`
		}
		if err := dec.Decode(&def); err != nil {
			return schemaProps{}, fmt.Errorf("decode schema property %q: %w", name, err)
		}
		props.order = append(props.order, name)
		if t, ok := def.Type.(string); ok {
			props.types[name] = t
		}
	}
	return props, nil
}
