package collection

import "strconv"

// ID is a dense handle into a Collection's node array.
//
// IDs are only handed out by a Collection (Add, Merge, ID, IDAt). The zero
// value is the handle of the first node; it is not a "none" marker.
type ID struct {
	n int
}

func newID(n int) ID {
	return ID{n: n}
}

// Int returns the slot number the handle refers to. Handles order by it:
// a smaller Int was allocated earlier.
func (id ID) Int() int {
	return id.n
}

func (id ID) String() string {
	return strconv.Itoa(id.n)
}
