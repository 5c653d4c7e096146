package core

import "txcore/pkg/domain"

// commitView exposes the committing transaction to validation rules. It only
// reports state already loaded; it never triggers a load.
type commitView struct {
	dm *DataManager
}

var _ domain.RuleView = commitView{}

func (v commitView) Lookup(id domain.ObjectID) (domain.Record, bool) {
	dc, ok := v.dm.containers[id]
	if !ok || dc.deleted {
		return domain.Record{}, false
	}
	return dc.Record(), true
}

func (v commitView) Related(id domain.ObjectID, property string) ([]domain.ObjectID, bool) {
	eid := domain.EndPointID{Object: id, Property: property}
	if r, ok := v.dm.endpoints.reals[eid]; ok {
		return r.Current(), true
	}
	if vep, ok := v.dm.endpoints.virtuals[eid]; ok && vep.loaded {
		return vep.Current(), true
	}
	return nil, false
}
