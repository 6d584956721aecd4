// Package sim drives a small synthetic world so a server has something to
// replicate: units wander, take damage, die, respawn and occasionally leave.
package sim

import (
	"math/rand/v2"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/world"
)

const (
	arena        = 4096
	maxHealth    = 100
	respawnTicks = 40
	// churnPercent of Step calls despawn one unit and spawn a replacement.
	churnPercent = 2
)

type unit struct {
	vx, vy int32
	dead   int
}

// World wraps a Store with the per-unit state the simulation needs.
type World struct {
	store *world.Store
	rng   *rand.Rand
	units map[world.Entity]*unit
}

func New(store *world.Store, seed uint64) *World {
	return &World{
		store: store,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		units: make(map[world.Entity]*unit),
	}
}

func (w *World) Store() *world.Store {
	return w.store
}

func (w *World) Len() int {
	return len(w.units)
}

// Populate spawns n units at random positions.
func (w *World) Populate(n int) error {
	for range n {
		if _, err := w.spawn(); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) spawn() (world.Entity, error) {
	e, err := w.store.Spawn(map[world.ComponentType]any{
		world.Replicated: struct{}{},
		codec.TransformComponent: codec.Transform{
			X: w.rng.Int32N(arena),
			Y: w.rng.Int32N(arena),
		},
		codec.HealthComponent: codec.Health{Current: maxHealth, Max: maxHealth},
	})
	if err != nil {
		return 0, err
	}
	w.units[e] = &unit{vx: w.rng.Int32N(9) - 4, vy: w.rng.Int32N(9) - 4}
	return e, nil
}

// Step advances the world by one tick.
func (w *World) Step() error {
	w.store.Update(codec.TransformComponent, func(e world.Entity, v any) any {
		u, ok := w.units[e]
		if !ok || u.dead > 0 {
			return v
		}
		t := v.(codec.Transform)
		t.X = bounce(t.X+u.vx, &u.vx)
		t.Y = bounce(t.Y+u.vy, &u.vy)
		if u.vx != 0 || u.vy != 0 {
			t.Heading = (t.Heading + 1) % 360
		}
		return t
	})

	for e, u := range w.units {
		if u.dead > 0 {
			u.dead--
			if u.dead == 0 {
				if err := w.revive(e); err != nil {
					return err
				}
			}
			continue
		}
		if w.rng.IntN(10) != 0 {
			continue
		}
		if err := w.damage(e, u, w.rng.Int32N(25)+1); err != nil {
			return err
		}
	}

	if len(w.units) > 0 && w.rng.IntN(100) < churnPercent {
		return w.churn()
	}
	return nil
}

func (w *World) damage(e world.Entity, u *unit, amount int32) error {
	h, ok := world.Get[codec.Health](w.store, e, codec.HealthComponent)
	if !ok {
		return nil
	}
	h.Current -= amount
	if h.Current > 0 {
		return w.store.Set(e, codec.HealthComponent, h)
	}
	h.Current = 0
	if err := w.store.Set(e, codec.HealthComponent, h); err != nil {
		return err
	}
	u.dead = respawnTicks
	logging.Debugf("sim.World.damage died entity=%d", e)
	return w.store.Set(e, codec.DeadComponent, struct{}{})
}

func (w *World) revive(e world.Entity) error {
	if err := w.store.Set(e, codec.HealthComponent, codec.Health{Current: maxHealth, Max: maxHealth}); err != nil {
		return err
	}
	logging.Debugf("sim.World.revive entity=%d", e)
	return w.store.Unset(e, codec.DeadComponent)
}

func (w *World) churn() error {
	victim := w.pick()
	if err := w.store.Despawn(victim); err != nil {
		return err
	}
	delete(w.units, victim)
	e, err := w.spawn()
	if err != nil {
		return err
	}
	logging.Debugf("sim.World.churn despawned=%d spawned=%d", victim, e)
	return nil
}

// pick chooses a unit uniformly among the live entities in handle order.
func (w *World) pick() world.Entity {
	entities := w.store.Entities()
	return entities[w.rng.IntN(len(entities))]
}

func bounce(pos int32, vel *int32) int32 {
	switch {
	case pos < 0:
		*vel = -*vel
		return -pos
	case pos >= arena:
		*vel = -*vel
		return 2*(arena-1) - pos
	}
	return pos
}
