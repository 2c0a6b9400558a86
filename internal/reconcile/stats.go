package reconcile

import (
	"gopkg.in/yaml.v3"
)

// Labels of the counters the driver maintains itself. Task functions add their own.
const (
	StatProcessedDates = "process dates"
	StatSettledDates   = "settled dates"
)

// Stats is a running label -> count accumulator shared by the driver and the task
// function for the whole run.
type Stats map[string]int

// Inc increments label by one.
func (s Stats) Inc(label string) {
	s[label]++
}

// Add increments label by n.
func (s Stats) Add(label string, n int) {
	s[label] += n
}

// YAML renders the counters sorted by label.
func (s Stats) YAML() string {
	if len(s) == 0 {
		return "{}\n"
	}
	out, err := yaml.Marshal(map[string]int(s))
	if err != nil {
		// a map of ints always marshals
		panic(err)
	}
	return string(out)
}
