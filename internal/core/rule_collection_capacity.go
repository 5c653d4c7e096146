package core

import (
	"context"
	"fmt"

	"txcore/pkg/domain"
)

// NewCollectionCapacityRule blocks commits that leave a collection endpoint
// class.property holding more than limit objects.
func NewCollectionCapacityRule(class, property string, limit int) domain.Rule {
	return collectionCapacityRule{class: class, property: property, limit: limit}
}

type collectionCapacityRule struct {
	class    string
	property string
	limit    int
}

func (r collectionCapacityRule) Name() string {
	return fmt.Sprintf("collection_capacity:%s.%s", r.class, r.property)
}

func (r collectionCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	owners := make(map[domain.ObjectID]struct{})
	for _, ch := range changes {
		if ch.ID.Class == r.class && ch.Action != domain.ActionDelete {
			owners[ch.ID] = struct{}{}
		}
		// Items moving into an owner change on the owning side only.
		if rec := ch.Current(); rec != nil {
			for _, ref := range rec.Refs {
				if ref.Class == r.class {
					owners[ref] = struct{}{}
				}
			}
		}
	}

	res := domain.Result{}
	for _, id := range sortedIDs(owners) {
		items, ok := view.Related(id, r.property)
		if !ok || len(items) <= r.limit {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s over capacity: %d/%d %s", id, len(items), r.limit, r.property),
			Object:   id,
		})
	}
	return res, nil
}
