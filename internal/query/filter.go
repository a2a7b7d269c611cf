// Package query parses the OData-style $filter expressions accepted by the
// cluster API and evaluates them against documents.
//
// The supported subset is a conjunction of comparisons:
//
//	name eq 'docker:10.0.0.4' and customProperties/__containerHostType ne 'KUBERNETES'
//
// Values may contain '*' wildcards. The pseudo-field ALL_FIELDS matches a
// value against every string field of a document. A parsed Filter renders to
// a CouchDB Mango selector for the document store and evaluates directly
// against decoded JSON for the in-memory backend.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
)

// AllFields is the pseudo-field matching any string field of a document.
const AllFields = "ALL_FIELDS"

// Clause is a single comparison. Field paths use '.' as separator.
type Clause struct {
	Field string
	Op    Op
	Value string
}

// Filter is a conjunction of clauses. The zero value matches everything.
type Filter []Clause

// Eq builds a single equality clause filter.
func Eq(field, value string) Filter {
	return Filter{{Field: normalizeField(field), Op: OpEq, Value: value}}
}

// And returns the conjunction of both filters.
func (f Filter) And(other Filter) Filter {
	out := make(Filter, 0, len(f)+len(other))
	out = append(out, f...)
	return append(out, other...)
}

// Empty reports whether the filter has no clauses.
func (f Filter) Empty() bool {
	return len(f) == 0
}

// String renders the filter back into $filter syntax.
func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = fmt.Sprintf("%s %s '%s'", c.Field, c.Op, strings.ReplaceAll(c.Value, "'", "''"))
	}
	return strings.Join(parts, " and ")
}

// Selector renders the filter as a Mango selector. allFields lists the
// document fields an ALL_FIELDS clause is expanded to.
func (f Filter) Selector(allFields ...string) map[string]interface{} {
	if len(f) == 0 {
		return map[string]interface{}{}
	}
	parts := make([]interface{}, 0, len(f))
	for _, c := range f {
		parts = append(parts, c.selector(allFields))
	}
	if len(parts) == 1 {
		return parts[0].(map[string]interface{})
	}
	return map[string]interface{}{"$and": parts}
}

func (c Clause) selector(allFields []string) map[string]interface{} {
	var cond map[string]interface{}
	switch {
	case hasWildcard(c.Value) || c.Field == AllFields:
		cond = map[string]interface{}{"$regex": globPattern(c.Value)}
	default:
		cond = map[string]interface{}{"$eq": c.Value}
	}
	if c.Op == OpNe {
		if _, ok := cond["$eq"]; ok {
			cond = map[string]interface{}{"$ne": c.Value}
		} else {
			cond = map[string]interface{}{"$not": cond}
		}
	}

	if c.Field != AllFields {
		return map[string]interface{}{c.Field: cond}
	}

	alts := make([]interface{}, 0, len(allFields))
	for _, field := range allFields {
		alts = append(alts, map[string]interface{}{field: cond})
	}
	if c.Op == OpNe {
		return map[string]interface{}{"$and": alts}
	}
	return map[string]interface{}{"$or": alts}
}

// Match evaluates the filter against any JSON-encodable document.
func (f Filter) Match(doc interface{}) bool {
	if len(f) == 0 {
		return true
	}
	m, ok := doc.(map[string]interface{})
	if !ok {
		data, err := json.Marshal(doc)
		if err != nil {
			return false
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return false
		}
	}
	for _, c := range f {
		if !c.match(m) {
			return false
		}
	}
	return true
}

func (c Clause) match(doc map[string]interface{}) bool {
	var found bool
	if c.Field == AllFields {
		found = anyLeaf(doc, c.matcher())
	} else {
		v, ok := lookup(doc, c.Field)
		found = ok && anyLeaf(v, c.matcher())
	}
	if c.Op == OpNe {
		return !found
	}
	return found
}

func (c Clause) matcher() func(string) bool {
	if hasWildcard(c.Value) || c.Field == AllFields {
		re := regexp.MustCompile(globPattern(c.Value))
		return re.MatchString
	}
	return func(s string) bool { return s == c.Value }
}

// lookup walks a dotted path. Map keys that themselves contain dots are
// tried greedily so custom property names survive intact.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		child, ok := doc[path[:i]].(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := lookup(child, path[i+1:]); ok {
			return v, true
		}
	}
	return nil, false
}

func anyLeaf(v interface{}, match func(string) bool) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]interface{}:
		for _, child := range t {
			if anyLeaf(child, match) {
				return true
			}
		}
		return false
	case []interface{}:
		for _, child := range t {
			if anyLeaf(child, match) {
				return true
			}
		}
		return false
	case string:
		return match(t)
	default:
		return match(fmt.Sprint(t))
	}
}

func hasWildcard(v string) bool {
	return strings.Contains(v, "*")
}

// globPattern converts a '*' wildcard value into an anchored regular
// expression. Matching is case-insensitive.
func globPattern(v string) string {
	parts := strings.Split(v, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "(?i)^" + strings.Join(parts, ".*") + "$"
}

func normalizeField(f string) string {
	return strings.ReplaceAll(strings.TrimSpace(f), "/", ".")
}
