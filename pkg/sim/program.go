package sim

import (
	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/logic"
	"github.com/heitortanoue/swarmmon/pkg/movement"
	"github.com/heitortanoue/swarmmon/pkg/sensor"
)

// Program is run by every device once per round
type Program func(c *field.Context) logic.Verdict

// MonitorProgram moves the device with its group, computes the proximity
// propositions, checks the group consistency monitor and writes the
// display attributes to the device storage
func MonitorProgram(ps *sensor.ProximitySensor) Program {
	return func(c *field.Context) logic.Verdict {
		step := movement.GroupWalk(c.Scope("group_walk"))
		reading := ps.Sense(c.Scope("propositions"))
		verdict := logic.ConsistencyMonitor(c.Scope("monitor"), device.GroupOf(c.ID()), reading.Cluster)

		st := c.Storage()
		st.Warning = reading.Warning
		st.Cluster = reading.Cluster
		st.Consistency = verdict.Result
		st.Debug = step.Fallback

		st.Size = 10
		if reading.Cluster {
			st.Size = 20
		}
		st.Color = device.Red
		if verdict.Result {
			st.Color = device.Green
		}
		st.Shape = device.Sphere
		if reading.Warning {
			st.Shape = device.Star
		}
		return verdict
	}
}
