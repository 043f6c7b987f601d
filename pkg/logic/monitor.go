package logic

import (
	"github.com/heitortanoue/swarmmon/pkg/field"
)

// Verdict carries the monitor sub-formulas of one round
type Verdict struct {
	AlertStart    bool `json:"alert_start"`
	AlertEnd      bool `json:"alert_end"`
	AllAlerted    bool `json:"all_alerted"`
	NoNewAfterAll bool `json:"no_new_after_all"`
	Result        bool `json:"result"`
}

// ConsistencyMonitor checks that a device leaves the cluster alert only if no
// new alert started since the whole group was last alerted. It is evaluated
// in the partition of the device's group, so devices of different groups
// never share monitor state.
func ConsistencyMonitor(c *field.Context, group int, cluster bool) Verdict {
	return field.Split(c, group, func(c *field.Context) Verdict {
		var v Verdict
		v.AlertStart = Yesterday(c, "was_calm", !cluster, false) && cluster
		v.AlertEnd = Yesterday(c, "was_clustered", cluster, false) && !cluster
		v.AllAlerted = Globally(c, "all_alerted", cluster)
		v.NoNewAfterAll = Since(c, "no_new_alarms", !v.AlertStart, v.AllAlerted)
		v.Result = Implies(v.AlertEnd, v.NoNewAfterAll)
		return v
	})
}
