package core

import (
	"fmt"
	"slices"
	"sort"

	"txcore/pkg/domain"
)

// Plugin contributes mapped classes, relations, rules and extensions to a Service.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	classes    []domain.ClassDefinition
	relations  []domain.RelationDefinition
	rules      []domain.Rule
	extensions []Extension
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// RegisterClass adds a persistent class definition.
func (r *PluginRegistry) RegisterClass(def domain.ClassDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("class name required")
	}
	for _, c := range r.classes {
		if c.Name == def.Name {
			return fmt.Errorf("class %s already registered", def.Name)
		}
	}
	def.Properties = slices.Clone(def.Properties)
	r.classes = append(r.classes, def)
	return nil
}

// RegisterRelation adds a relation between registered or already mapped classes.
func (r *PluginRegistry) RegisterRelation(rel domain.RelationDefinition) {
	r.relations = append(r.relations, rel)
}

// RegisterRule adds a commit-time rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterExtension adds an extension installed on every root transaction.
func (r *PluginRegistry) RegisterExtension(ext Extension) {
	if ext == nil {
		return
	}
	r.extensions = append(r.extensions, ext)
}

// Classes returns a copy of the registered classes.
func (r *PluginRegistry) Classes() []domain.ClassDefinition { return slices.Clone(r.classes) }

// Relations returns a copy of the registered relations.
func (r *PluginRegistry) Relations() []domain.RelationDefinition { return slices.Clone(r.relations) }

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []domain.Rule { return slices.Clone(r.rules) }

// Extensions returns a copy of registered extensions.
func (r *PluginRegistry) Extensions() []Extension { return slices.Clone(r.extensions) }

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name       string
	Version    string
	Classes    []string
	Relations  []string
	Rules      []string
	Extensions []string
}

func describe(plugin Plugin, registry *PluginRegistry) PluginMetadata {
	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, c := range registry.classes {
		meta.Classes = append(meta.Classes, c.Name)
	}
	for _, rel := range registry.relations {
		meta.Relations = append(meta.Relations, rel.Name)
	}
	for _, rule := range registry.rules {
		meta.Rules = append(meta.Rules, rule.Name())
	}
	for _, ext := range registry.extensions {
		meta.Extensions = append(meta.Extensions, ext.Name())
	}
	sort.Strings(meta.Classes)
	return meta
}
