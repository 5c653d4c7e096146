package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"txcore/internal/core"
	"txcore/pkg/domain"
)

// objectView is the printable form of one object as seen by a transaction.
type objectView struct {
	ID        string              `json:"id"`
	State     domain.State        `json:"state"`
	Values    map[string]any      `json:"values"`
	Relations map[string][]string `json:"relations,omitempty"`
}

// describe reads every mapped property of obj through tx. Collections are
// sorted by id so output is stable.
func describe(ctx context.Context, m *domain.Mapping, obj core.Object) (objectView, error) {
	state, err := obj.State(ctx)
	if err != nil {
		return objectView{}, err
	}
	view := objectView{ID: obj.String(), State: state, Values: map[string]any{}, Relations: map[string][]string{}}
	def, err := m.Class(obj.Class())
	if err != nil {
		return objectView{}, err
	}
	for _, p := range def.Properties {
		v, err := obj.Value(ctx, p.Name)
		if err != nil {
			return objectView{}, fmt.Errorf("%s.%s: %w", obj, p.Name, err)
		}
		view.Values[p.Name] = v
	}
	for _, rel := range m.RealEndPoints(obj.Class()) {
		related, err := obj.Related(ctx, rel.Real.Property)
		if err != nil {
			return objectView{}, err
		}
		view.Relations[rel.Real.Property] = ids(related)
	}
	for _, rel := range m.VirtualEndPoints(obj.Class()) {
		prop := rel.Virtual.Property
		if rel.Virtual.Cardinality == domain.CardinalityMany {
			items, err := obj.RelatedObjects(ctx, prop)
			if err != nil {
				return objectView{}, err
			}
			view.Relations[prop] = ids(items...)
			continue
		}
		related, err := obj.Related(ctx, prop)
		if err != nil {
			return objectView{}, err
		}
		view.Relations[prop] = ids(related)
	}
	return view, nil
}

func ids(objs ...core.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		if !o.IsZero() {
			out = append(out, o.String())
		}
	}
	slices.Sort(out)
	return out
}

func writeView(w io.Writer, v objectView) {
	fmt.Fprintf(w, "%s (%s)\n", v.ID, v.State)
	for _, name := range sortedKeys(v.Values) {
		fmt.Fprintf(w, "  %-14s %v\n", name, v.Values[name])
	}
	for _, name := range sortedKeys(v.Relations) {
		targets := v.Relations[name]
		if len(targets) == 0 {
			fmt.Fprintf(w, "  %-14s -\n", name)
			continue
		}
		fmt.Fprintf(w, "  %-14s %s\n", name, strings.Join(targets, ", "))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
