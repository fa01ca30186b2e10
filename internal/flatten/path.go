package flatten

import (
	"strconv"
	"strings"
)

// propertyPath extends parent with a property segment: ".name", or
// ["name"] when the name would be ambiguous in dotted form.
func propertyPath(parent, name string) string {
	if name == "" || strings.ContainsAny(name, ".[]\"\\<> \t\r\n") {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
		return parent + `["` + r.Replace(name) + `"]`
	}
	return parent + "." + name
}

func itemPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// segment kinds of a row path.
const (
	segRoot = iota
	segProperty
	segItem
	segBranch
)

type segment struct {
	kind int
	text string
}

// splitPath breaks a row path into its segments. It returns nil for text
// that is not a row path.
func splitPath(path string) []segment {
	if !strings.HasPrefix(path, RootPath) {
		return nil
	}
	segs := []segment{{segRoot, RootPath}}
	rest := path[len(RootPath):]
	for rest != "" {
		var end int
		kind := segProperty
		switch {
		case strings.HasPrefix(rest, `["`):
			end = quotedEnd(rest)
		case rest[0] == '.':
			end = strings.IndexAny(rest[1:], ".[<")
			if end < 0 {
				end = len(rest)
			} else {
				end++
			}
		case rest[0] == '[':
			kind = segItem
			end = strings.IndexByte(rest, ']') + 1
		case rest[0] == '<':
			kind = segBranch
			gt := strings.IndexByte(rest, '>')
			if gt < 0 || !strings.HasPrefix(rest[gt+1:], "[") {
				return nil
			}
			end = gt + 1 + strings.IndexByte(rest[gt+1:], ']') + 1
		}
		if end <= 0 || end > len(rest) {
			return nil
		}
		segs = append(segs, segment{kind, rest[:end]})
		rest = rest[end:]
	}
	return segs
}

// quotedEnd returns the length of a leading ["..."] segment, or 0.
func quotedEnd(s string) int {
	for i := 2; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			if i+1 < len(s) && s[i+1] == ']' {
				return i + 2
			}
			return 0
		}
	}
	return 0
}

// ParentPath returns the path of the structural parent of the row at path:
// composition suffixes are skipped, then one property or item segment is
// removed. The root and anything that is not a row path have no parent.
func ParentPath(path string) string {
	segs := splitPath(path)
	for len(segs) > 0 && segs[len(segs)-1].kind == segBranch {
		segs = segs[:len(segs)-1]
	}
	if len(segs) <= 1 {
		return ""
	}
	var b strings.Builder
	for _, s := range segs[:len(segs)-1] {
		b.WriteString(s.text)
	}
	return b.String()
}
