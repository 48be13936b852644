package dm

// Delta is the difference between two instance sets.
type Delta struct {
	// Added holds instances present in the current set only.
	Added Set

	// Removed holds instances present in the previous set only.
	Removed Set
}

// Empty reports whether nothing was added or removed.
func (d Delta) Empty() bool {
	return d.Added.IsEmpty() && d.Removed.IsEmpty()
}

// Diff computes the delta from previous to current:
// Added = current \ previous and Removed = previous \ current.
func Diff(previous, current Set) Delta {
	d := Delta{Added: NewSet(), Removed: NewSet()}
	for r := range current.refs {
		if _, ok := previous.refs[r]; !ok {
			d.Added.refs[r] = struct{}{}
		}
	}
	for r := range previous.refs {
		if _, ok := current.refs[r]; !ok {
			d.Removed.refs[r] = struct{}{}
		}
	}
	return d
}
