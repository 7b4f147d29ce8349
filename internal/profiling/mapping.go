package profiling

import (
	"fmt"
	"strings"
)

// NameMapping is the human readable description of a function id.
type NameMapping struct {
	ID         int32
	ReturnType string
	Name       string
	Parameters []string
}

// Signature returns "ReturnType Name(Param, ...)", omitting an empty
// return type.
func (m NameMapping) Signature() string {
	var sb strings.Builder
	if m.ReturnType != "" {
		sb.WriteString(m.ReturnType)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	sb.WriteString(strings.Join(m.Parameters, ", "))
	sb.WriteByte(')')
	return sb.String()
}

// UnknownMapping is the placeholder returned for ids without a mapping.
func UnknownMapping(id int32) NameMapping {
	return NameMapping{ID: id, Name: fmt.Sprintf("[id %d]", id)}
}

// NameResolver resolves name ids recorded in a snapshot.
type NameResolver interface {
	// LookupMapping returns the mapping for id and whether it was found.
	LookupMapping(id int32) (NameMapping, bool)
}

// NameTable is a NameResolver backed by a map.
type NameTable map[int32]NameMapping

func (t NameTable) LookupMapping(id int32) (NameMapping, bool) {
	m, ok := t[id]
	return m, ok
}
