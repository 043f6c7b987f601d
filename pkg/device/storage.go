package device

// Color of a device in the renderer
type Color string

const (
	Green Color = "green"
	Red   Color = "red"
)

// Shape of a device in the renderer
type Shape string

const (
	Sphere Shape = "sphere"
	Star   Shape = "star"
)

// Storage holds the round-local attributes of a device. Speed and Offset are
// set at spawn time; the rest is written by the program every round and read
// by renderers and aggregators.
type Storage struct {
	Speed       float64 `json:"speed"`  // m/s
	Offset      float64 `json:"offset"` // follower offset radius
	Color       Color   `json:"color"`
	Size        float64 `json:"size"`
	Shape       Shape   `json:"shape"`
	Consistency bool    `json:"consistency"`
	Warning     bool    `json:"warning"`
	Cluster     bool    `json:"cluster"`
	Debug       string  `json:"debug,omitempty"`
}

// KmhToMs converts a speed in km/h into m/s
func KmhToMs(kmh float64) float64 {
	return kmh * 1000 / 3600
}
