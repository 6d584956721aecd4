package codec

import "github.com/danmuck/ghostwire/internal/world"

const (
	TransformComponent world.ComponentType = "transform"
	HealthComponent    world.ComponentType = "health"
	// DeadComponent suppresses health replication and tags the object dead.
	DeadComponent world.ComponentType = "dead"
)

// Transform is a fixed-point position and heading.
type Transform struct {
	X, Y, Z int32
	Heading int32
}

type Health struct {
	Current int32
	Max     int32
}

func NewTransformCodec() *Fields[Transform] {
	return NewFields("ghostwire.transform", TransformComponent, 4,
		func(t Transform) []int32 { return []int32{t.X, t.Y, t.Z, t.Heading} },
		func(f []int32) Transform { return Transform{X: f[0], Y: f[1], Z: f[2], Heading: f[3]} },
	)
}

func NewHealthCodec() *Fields[Health] {
	return NewFields("ghostwire.health", HealthComponent, 2,
		func(h Health) []int32 { return []int32{h.Current, h.Max} },
		func(f []int32) Health { return Health{Current: f[0], Max: f[1]} },
	).Excluding(DeadComponent)
}

func NewDeadCodec() *Tag {
	return NewTag("ghostwire.dead", DeadComponent, "")
}

// DefaultSet registers the built-in codecs in their canonical order. Both
// ends of a connection must build their sets the same way.
func DefaultSet() *Set {
	return NewSet().MustRegister(NewTransformCodec(), NewHealthCodec(), NewDeadCodec())
}
