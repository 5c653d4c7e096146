package core

import (
	"context"
	"fmt"

	"txcore/pkg/domain"
)

// NewRequiredPropertyRule blocks creating or updating objects of class while
// any of the named value properties is nil or an empty string.
func NewRequiredPropertyRule(class string, properties ...string) domain.Rule {
	return requiredPropertyRule{class: class, properties: properties}
}

type requiredPropertyRule struct {
	class      string
	properties []string
}

func (r requiredPropertyRule) Name() string { return "required_property:" + r.class }

func (r requiredPropertyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ch := range changes {
		if ch.ID.Class != r.class || ch.After == nil {
			continue
		}
		for _, name := range r.properties {
			v := ch.After.Values[name]
			if s, isString := v.(string); v != nil && (!isString || s != "") {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s requires %s", ch.ID, name),
				Object:   ch.ID,
			})
		}
	}
	return res, nil
}
