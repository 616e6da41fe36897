package service

import (
	"offerledger/internal/config"
	"offerledger/pkg/amount"
)

// Plan 点数套餐
type Plan struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Credits amount.Credits `json:"credits"`
	Mode    string         `json:"mode"`
}

// PlanTable 套餐 ID -> 套餐，启动时从配置构建，之后只读
type PlanTable struct {
	plans map[string]Plan
	order []string
}

func NewPlanTable(cfgs []config.PlanConfig) *PlanTable {
	t := &PlanTable{plans: make(map[string]Plan, len(cfgs))}
	for _, c := range cfgs {
		mode := c.Mode
		if mode == "" {
			mode = "payment"
		}
		t.plans[c.ID] = Plan{
			ID:      c.ID,
			Name:    c.Name,
			Credits: amount.WholeCredits(c.Credits),
			Mode:    mode,
		}
		t.order = append(t.order, c.ID)
	}
	return t
}

func (t *PlanTable) Lookup(id string) (Plan, error) {
	p, ok := t.plans[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

func (t *PlanTable) List() []Plan {
	out := make([]Plan, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.plans[id])
	}
	return out
}
