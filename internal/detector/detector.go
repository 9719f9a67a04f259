package detector

// Detector reports whether a deployed application is still running.
// It must be safe for concurrent use.
type Detector interface {
	Alive() (bool, error)
	// Describe names the method, e.g. "pidfile:/run/app.pid".
	Describe() string
}

// Check is the outcome of one Detector.
type Check struct {
	Detector string `json:"detector"`
	Alive    bool   `json:"alive"`
	Error    string `json:"error,omitempty"`
}

// Probe runs every detector in order and collects their outcomes.
// A failing detector is recorded as not alive.
func Probe(ds ...Detector) []Check {
	out := make([]Check, 0, len(ds))
	for _, d := range ds {
		ok, err := d.Alive()
		c := Check{Detector: d.Describe(), Alive: ok && err == nil}
		if err != nil {
			c.Error = err.Error()
		}
		out = append(out, c)
	}
	return out
}
