package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"
)

// Format selects the syntax of a schema document.
type Format uint8

// Document formats.
const (
	FormatAuto Format = iota
	FormatJSON
	FormatYAML
)

// DecodeOptions controls Decode.
type DecodeOptions struct {
	Format Format
	// Repair retries a failed JSON decode on the output of jsonrepair.
	Repair bool
}

var errTrailingData = errors.New("schema: trailing data after document")

// FormatFor guesses the document format from a file name or URL path and a
// Content-Type header. Either may be empty.
func FormatFor(name, contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "yaml"):
		return FormatYAML
	case strings.Contains(ct, "json"):
		return FormatJSON
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return FormatAuto
}

// Decode parses a schema document.
func Decode(data []byte, opts DecodeOptions) (*Node, error) {
	format := opts.Format
	if format == FormatAuto {
		format = sniff(data)
	}
	if format == FormatYAML {
		return decodeYAML(data)
	}
	n, err := decodeJSON(data)
	if err == nil || !opts.Repair {
		return n, err
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, fmt.Errorf("%w (repair failed: %v)", err, repairErr)
	}
	return decodeJSON([]byte(repaired))
}

// sniff treats anything that does not open with a JSON container as YAML.
func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

func decodeJSON(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := readValue(dec)
	if err != nil {
		return nil, fmt.Errorf("schema: decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return n, nil
}

func readValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return readObject(dec)
		case '[':
			return readArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", rune(v))
	case string:
		return String(v), nil
	case json.Number:
		return Number(string(v)), nil
	case float64:
		return Number(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case bool:
		return Bool(v), nil
	case nil:
		return Null(), nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func readObject(dec *json.Decoder) (*Node, error) {
	obj := newObject(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is %T, not string", tok)
		}
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		obj.set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func readArray(dec *json.Decoder) (*Node, error) {
	arr := &Node{kind: KindArray}
	for dec.More() {
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		arr.items = append(arr.items, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func decodeYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	if doc.Kind == 0 {
		return nil, errors.New("schema: decode yaml: empty document")
	}
	c := yamlConverter{aliases: make(map[*yaml.Node]aliasResult)}
	n, _, err := c.convert(&doc, 0)
	if err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	return n, nil
}

const (
	// maxYAMLNesting bounds the depth of a YAML document.
	maxYAMLNesting = 512
	// maxYAMLNodes bounds the size of a YAML document with every alias
	// expanded in place.
	maxYAMLNodes = 1 << 20
)

var errYAMLTooLarge = fmt.Errorf("document expands to more than %d nodes", maxYAMLNodes)

type aliasResult struct {
	node *Node
	size int
}

// yamlConverter turns a yaml.Node tree into Nodes. An anchored value is
// converted once and shared by its aliases; every alias still counts its
// expanded size against maxYAMLNodes.
type yamlConverter struct {
	total   int
	aliases map[*yaml.Node]aliasResult
}

func (c *yamlConverter) count(n int) error {
	c.total += n
	if c.total > maxYAMLNodes {
		return errYAMLTooLarge
	}
	return nil
}

// convert returns the Node for y and its expanded node count.
func (c *yamlConverter) convert(y *yaml.Node, depth int) (*Node, int, error) {
	if depth > maxYAMLNesting {
		return nil, 0, errors.New("nesting too deep")
	}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Null(), 1, c.count(1)
		}
		return c.convert(y.Content[0], depth+1)
	case yaml.AliasNode:
		if r, ok := c.aliases[y.Alias]; ok {
			return r.node, r.size, c.count(r.size)
		}
		n, size, err := c.convert(y.Alias, depth+1)
		if err != nil {
			return nil, 0, err
		}
		c.aliases[y.Alias] = aliasResult{node: n, size: size}
		return n, size, nil
	case yaml.MappingNode:
		obj := newObject(len(y.Content) / 2)
		size := 1
		for i := 0; i+1 < len(y.Content); i += 2 {
			v, n, err := c.convert(y.Content[i+1], depth+1)
			if err != nil {
				return nil, 0, err
			}
			size += n
			obj.set(y.Content[i].Value, v)
		}
		return obj, size, c.count(1)
	case yaml.SequenceNode:
		arr := &Node{kind: KindArray, items: make([]*Node, 0, len(y.Content))}
		size := 1
		for _, item := range y.Content {
			v, n, err := c.convert(item, depth+1)
			if err != nil {
				return nil, 0, err
			}
			size += n
			arr.items = append(arr.items, v)
		}
		return arr, size, c.count(1)
	case yaml.ScalarNode:
		n, err := yamlScalar(y)
		if err != nil {
			return nil, 0, err
		}
		return n, 1, c.count(1)
	}
	return nil, 0, fmt.Errorf("unsupported node kind %d", y.Kind)
}

// yamlScalar maps a resolved YAML scalar onto a JSON value. Numbers are
// re-encoded in JSON syntax; YAML-only spellings such as 0x1F, 0o17 or
// 1_000 are normalised and the non-finite floats become strings.
func yamlScalar(y *yaml.Node) (*Node, error) {
	switch y.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case "!!int", "!!float":
		if isJSONNumber(y.Value) {
			return Number(y.Value), nil
		}
		return yamlNumber(y)
	}
	return String(y.Value), nil
}

func yamlNumber(y *yaml.Node) (*Node, error) {
	if y.ShortTag() == "!!int" {
		var i int64
		if err := y.Decode(&i); err == nil {
			return Number(strconv.FormatInt(i, 10)), nil
		}
		var u uint64
		if err := y.Decode(&u); err == nil {
			return Number(strconv.FormatUint(u, 10)), nil
		}
	}
	var f float64
	if err := y.Decode(&f); err != nil {
		return nil, fmt.Errorf("number %q: %w", y.Value, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return String(y.Value), nil
	}
	return Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// isJSONNumber reports whether s is already a JSON number literal.
func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}
