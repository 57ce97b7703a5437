// Package types defines CRAB's experiment data model: application
// configuration (AppSpec), its resolved runtime counterpart (AppInstance),
// the schedule vocabulary (ScheduleEntry, DependencyMap), and the
// per-metric sample accumulator (DataContainer).
//
// Start and End are read off the wire as strings ("s0", "f", "3.5") and
// resolved once, at setup, into StartSpec/EndSpec via ParseAppSpec. Nothing
// downstream re-parses the string form.
package types
