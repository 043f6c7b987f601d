// Package logic implements past-time temporal operators over a device's own
// round history, and the group consistency monitor built from them. Every
// operator keeps O(1) state per call-site.
package logic

import (
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

// Yesterday returns x as evaluated at the previous round, init at the first
// round the site is evaluated
func Yesterday(c *field.Context, site trace.Site, x bool, init bool) bool {
	return field.Old(c, site, init, x)
}

// Globally holds while x has held at every round since the site was first
// evaluated. Once false it stays false.
func Globally(c *field.Context, site trace.Site, x bool) bool {
	return field.Rep(c, site, true, func(h bool) bool {
		return h && x
	})
}

// Since holds when q held at some past round (this one included) and p has
// held at every round after it
func Since(c *field.Context, site trace.Site, p, q bool) bool {
	return field.Rep(c, site, false, func(h bool) bool {
		return q || (p && h)
	})
}

// Implies is material implication, a => b
func Implies(a, b bool) bool {
	return !a || b
}
