// Package routeplanner implements the Route Planner: a passive data
// holder for the active setpoint and obstacle list, computing an
// obstacle-avoiding adjusted setpoint on demand. The planner holds no
// references to other components and serializes every operation under a
// single internal lock (independent of the other locks in the core's
// ordering; may be acquired without holding any other lock).
package routeplanner

import (
	"math"
	"sync"

	"github.com/orefield/haulcore/engine/models"
)

const (
	lookAheadDistance = 200.0
	avoidanceRadius   = 80.0
	avoidanceMargin   = 20.0
)

type Planner struct {
	mu        sync.Mutex
	setpoint  models.NavigationSetpoint
	obstacles []models.Obstacle
}

func New() *Planner {
	return &Planner{}
}

// SetTarget atomically replaces the stored setpoint's target fields.
func (p *Planner) SetTarget(x, y, speed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setpoint.TargetX = x
	p.setpoint.TargetY = y
	p.setpoint.TargetSpeed = speed
}

// UpdateObstacles atomically replaces the obstacle list.
func (p *Planner) UpdateObstacles(list []models.Obstacle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obstacles = append([]models.Obstacle(nil), list...)
}

// GetSetpoint returns a snapshot copy of the stored setpoint.
func (p *Planner) GetSetpoint() models.NavigationSetpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setpoint
}

// HeadingToTarget returns the bearing from (currentX, currentY) to the
// stored target, in the natural atan2 range — no normalization beyond
// that (unlike Navigation's own desired-heading computation, which
// normalizes to [0, 360)).
func (p *Planner) HeadingToTarget(currentX, currentY int) int {
	p.mu.Lock()
	tx, ty := p.setpoint.TargetX, p.setpoint.TargetY
	p.mu.Unlock()
	rad := math.Atan2(float64(ty-currentY), float64(tx-currentX))
	return int(math.Round(rad * 180 / math.Pi))
}

// ComputeAdjustedSetpoint implements single-obstacle contouring: it finds
// the nearest threatening obstacle along the path to the stored target
// and, if one exists, returns a setpoint aimed to pass it at
// avoidanceRadius+avoidanceMargin clearance. With no threat, the stored
// setpoint is returned unchanged.
//
// Left/right convention: obstacle side is the sign of the path-to-obstacle
// cross product in world coordinates (x east, y north, counter-clockwise
// positive). A positive cross product places the obstacle to the left of
// the path, so the adjusted target is offset to the right, and vice versa.
// An obstacle exactly on the centerline (cross == 0) is treated as being
// on the right, so the default offset is to the left — a deterministic
// tie-break for the degenerate case.
func (p *Planner) ComputeAdjustedSetpoint(currentX, currentY int) models.NavigationSetpoint {
	p.mu.Lock()
	setpoint := p.setpoint
	obstacles := append([]models.Obstacle(nil), p.obstacles...)
	p.mu.Unlock()

	dx := float64(setpoint.TargetX - currentX)
	dy := float64(setpoint.TargetY - currentY)
	distance := math.Hypot(dx, dy)
	if distance < 1 {
		return setpoint
	}
	dirX, dirY := dx/distance, dy/distance

	type threat struct {
		obstacle models.Obstacle
		proj     float64
		perp     float64
	}
	var nearest *threat
	forwardLimit := math.Min(distance, lookAheadDistance)

	for _, o := range obstacles {
		relX := float64(o.X - currentX)
		relY := float64(o.Y - currentY)
		proj := relX*dirX + relY*dirY
		perp := dirX*relY - dirY*relX
		// proj == forwardLimit is kept in range (closed upper bound): an
		// obstacle sitting exactly at the look-ahead distance is still a
		// threat, matching the documented detour scenario where the
		// obstacle sits exactly at distance == look-ahead.
		if proj <= 0 || proj > forwardLimit {
			continue
		}
		if math.Abs(perp) >= avoidanceRadius {
			continue
		}
		if nearest == nil || proj < nearest.proj {
			nearest = &threat{obstacle: o, proj: proj, perp: perp}
		}
	}
	if nearest == nil {
		return setpoint
	}

	var offsetX, offsetY float64
	if nearest.perp > 0 {
		// obstacle left of path -> offset right
		offsetX, offsetY = dirY, -dirX
	} else {
		// obstacle right of path, or exactly on the centerline -> offset left
		offsetX, offsetY = -dirY, dirX
	}
	clearance := avoidanceRadius + avoidanceMargin
	adjusted := setpoint
	adjusted.TargetX = nearest.obstacle.X + int(math.Round(offsetX*clearance))
	adjusted.TargetY = nearest.obstacle.Y + int(math.Round(offsetY*clearance))
	return adjusted
}
