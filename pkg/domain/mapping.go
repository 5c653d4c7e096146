package domain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
)

// Cardinality describes how many objects one endpoint may reference.
type Cardinality string

// Endpoint cardinalities.
const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// RelationKind classifies a relation for command construction.
type RelationKind string

// Relation kinds.
const (
	RelationUnidirectional RelationKind = "unidirectional"
	RelationOneToOne       RelationKind = "one-to-one"
	RelationOneToMany      RelationKind = "one-to-many"
)

var (
	// ErrUnknownClass is returned for class names missing from the mapping.
	ErrUnknownClass = errors.New("domain: unknown class")
	// ErrUnknownProperty is returned for property names missing from a class.
	ErrUnknownProperty = errors.New("domain: unknown property")
)

// PropertyDefinition describes a plain value property.
type PropertyDefinition struct {
	Name    string
	Default any
}

// ClassDefinition lists the value properties of a persistent class. Relation
// properties are contributed by RelationDefinitions.
type ClassDefinition struct {
	Name       string
	Properties []PropertyDefinition
}

// EndPointDefinition names one side of a relation.
type EndPointDefinition struct {
	Class       string
	Property    string
	Cardinality Cardinality
}

// IsAnonymous reports whether the side has no navigable property.
func (d EndPointDefinition) IsAnonymous() bool {
	return d.Property == ""
}

// RelationDefinition connects the owning (real) side, which stores the
// reference, with the derived (virtual) side.
type RelationDefinition struct {
	Name    string
	Real    EndPointDefinition
	Virtual EndPointDefinition
}

// Kind returns the relation's classification.
func (r RelationDefinition) Kind() RelationKind {
	switch {
	case r.Virtual.IsAnonymous():
		return RelationUnidirectional
	case r.Virtual.Cardinality == CardinalityMany:
		return RelationOneToMany
	default:
		return RelationOneToOne
	}
}

// EndPointRole is the resolved position of a property inside a relation.
type EndPointRole struct {
	Relation RelationDefinition
	Virtual  bool
}

// Self returns the definition of the resolved side.
func (r EndPointRole) Self() EndPointDefinition {
	if r.Virtual {
		return r.Relation.Virtual
	}
	return r.Relation.Real
}

// Opposite returns the definition of the other side.
func (r EndPointRole) Opposite() EndPointDefinition {
	if r.Virtual {
		return r.Relation.Real
	}
	return r.Relation.Virtual
}

type endPointKey struct {
	class    string
	property string
}

// Mapping holds class and relation metadata. It is built once and then only read.
type Mapping struct {
	classes   map[string]ClassDefinition
	endpoints map[endPointKey]EndPointRole
	relations []RelationDefinition
}

// NewMapping constructs an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		classes:   make(map[string]ClassDefinition),
		endpoints: make(map[endPointKey]EndPointRole),
	}
}

// AddClass registers a class definition.
func (m *Mapping) AddClass(def ClassDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: class name required", ErrUnknownClass)
	}
	if _, exists := m.classes[def.Name]; exists {
		return fmt.Errorf("class %q already mapped", def.Name)
	}
	seen := make(map[string]struct{}, len(def.Properties))
	for _, p := range def.Properties {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("class %q: duplicate property %q", def.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	m.classes[def.Name] = def
	return nil
}

// AddRelation registers a relation between two mapped classes.
func (m *Mapping) AddRelation(rel RelationDefinition) error {
	if rel.Real.Property == "" {
		return fmt.Errorf("relation %q: the real side needs a property", rel.Name)
	}
	rel.Real.Cardinality = CardinalityOne
	if rel.Virtual.Cardinality == "" {
		rel.Virtual.Cardinality = CardinalityOne
	}
	for _, side := range []EndPointDefinition{rel.Real, rel.Virtual} {
		if _, ok := m.classes[side.Class]; !ok {
			return m.unknownClass(side.Class)
		}
		if side.IsAnonymous() {
			continue
		}
		if _, taken := m.endpoints[endPointKey{side.Class, side.Property}]; taken || m.IsValueProperty(side.Class, side.Property) {
			return fmt.Errorf("relation %q: property %s.%s already mapped", rel.Name, side.Class, side.Property)
		}
	}
	m.endpoints[endPointKey{rel.Real.Class, rel.Real.Property}] = EndPointRole{Relation: rel}
	if !rel.Virtual.IsAnonymous() {
		m.endpoints[endPointKey{rel.Virtual.Class, rel.Virtual.Property}] = EndPointRole{Relation: rel, Virtual: true}
	}
	m.relations = append(m.relations, rel)
	return nil
}

// MustAdd registers classes and relations, panicking on the first error. It is
// intended for static mapping setup in program init and tests.
func (m *Mapping) MustAdd(classes []ClassDefinition, relations []RelationDefinition) *Mapping {
	for _, c := range classes {
		if err := m.AddClass(c); err != nil {
			panic(err)
		}
	}
	for _, r := range relations {
		if err := m.AddRelation(r); err != nil {
			panic(err)
		}
	}
	return m
}

// Class returns the definition for name.
func (m *Mapping) Class(name string) (ClassDefinition, error) {
	def, ok := m.classes[name]
	if !ok {
		return ClassDefinition{}, m.unknownClass(name)
	}
	return def, nil
}

// ValueProperty returns the value property definition for class.property.
func (m *Mapping) ValueProperty(class, property string) (PropertyDefinition, error) {
	def, err := m.Class(class)
	if err != nil {
		return PropertyDefinition{}, err
	}
	for _, p := range def.Properties {
		if p.Name == property {
			return p, nil
		}
	}
	return PropertyDefinition{}, m.unknownProperty(class, property)
}

// EndPoint resolves a relation property of class.
func (m *Mapping) EndPoint(class, property string) (EndPointRole, error) {
	if _, err := m.Class(class); err != nil {
		return EndPointRole{}, err
	}
	role, ok := m.endpoints[endPointKey{class, property}]
	if !ok {
		return EndPointRole{}, m.unknownProperty(class, property)
	}
	return role, nil
}

// IsRelation reports whether class.property is a relation endpoint.
func (m *Mapping) IsRelation(class, property string) bool {
	_, ok := m.endpoints[endPointKey{class, property}]
	return ok
}

// RealEndPoints returns the relations whose owning side lives on class, in
// registration order.
func (m *Mapping) RealEndPoints(class string) []RelationDefinition {
	var out []RelationDefinition
	for _, r := range m.relations {
		if r.Real.Class == class {
			out = append(out, r)
		}
	}
	return out
}

// VirtualEndPoints returns the relations whose navigable virtual side lives on class.
func (m *Mapping) VirtualEndPoints(class string) []RelationDefinition {
	var out []RelationDefinition
	for _, r := range m.relations {
		if r.Virtual.Class == class && !r.Virtual.IsAnonymous() {
			out = append(out, r)
		}
	}
	return out
}

// Classes returns mapped class names in sorted order.
func (m *Mapping) Classes() []string {
	out := make([]string, 0, len(m.classes))
	for name := range m.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsValueProperty reports whether class.property is a plain value property.
func (m *Mapping) IsValueProperty(class, property string) bool {
	for _, p := range m.classes[class].Properties {
		if p.Name == property {
			return true
		}
	}
	return false
}

func (m *Mapping) unknownClass(name string) error {
	if hint := closest(name, m.Classes()); hint != "" {
		return fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownClass, name, hint)
	}
	return fmt.Errorf("%w %q", ErrUnknownClass, name)
}

func (m *Mapping) unknownProperty(class, property string) error {
	var candidates []string
	for _, p := range m.classes[class].Properties {
		candidates = append(candidates, p.Name)
	}
	for key := range m.endpoints {
		if key.class == class {
			candidates = append(candidates, key.property)
		}
	}
	sort.Strings(candidates)
	if hint := closest(property, candidates); hint != "" {
		return fmt.Errorf("%w %s.%s (did you mean %q?)", ErrUnknownProperty, class, property, hint)
	}
	return fmt.Errorf("%w %s.%s", ErrUnknownProperty, class, property)
}

// closest returns the candidate within edit distance 3 of name, if any.
func closest(name string, candidates []string) string {
	best, bestDist := "", 4
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
