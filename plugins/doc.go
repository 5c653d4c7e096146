// Package plugins hosts plugin implementation subpackages. It contains no
// runtime code itself; the architecture guard test lives alongside it.
//
// Plugins describe a domain model (classes, relations, rules, extensions)
// through core.PluginRegistry and must stay independent of concrete
// persistence and blob backends, which are chosen by the host at runtime.
package plugins
