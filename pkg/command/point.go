package command

import "fmt"

// Point3 is the absolute block position a build's relative coordinates are
// resolved against. Captured once when a build is requested and never
// mutated afterwards.
type Point3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Point3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z)
}

// Axis returns the coordinate for slot i of the repeating x,y,z triplet.
func (p Point3) Axis(i int) int {
	switch i % 3 {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}
