package routeplanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orefield/haulcore/engine/models"
)

func TestSetTargetThenGetSetpointRoundTrips(t *testing.T) {
	p := New()
	p.SetTarget(500, 300, 50)
	sp := p.GetSetpoint()
	assert.Equal(t, 500, sp.TargetX)
	assert.Equal(t, 300, sp.TargetY)
	assert.Equal(t, 50, sp.TargetSpeed)
}

func TestComputeAdjustedSetpointNoObstaclesReturnsStored(t *testing.T) {
	p := New()
	p.SetTarget(500, 300, 50)
	adjusted := p.ComputeAdjustedSetpoint(100, 200)
	sp := p.GetSetpoint()
	assert.Equal(t, sp, adjusted)
}

func TestUpdateObstaclesIdempotent(t *testing.T) {
	p := New()
	p.SetTarget(400, 0, 50)
	obstacles := []models.Obstacle{{ID: "1", X: 200, Y: 0}}
	p.UpdateObstacles(obstacles)
	first := p.ComputeAdjustedSetpoint(0, 0)
	p.UpdateObstacles(obstacles)
	second := p.ComputeAdjustedSetpoint(0, 0)
	assert.Equal(t, first, second)
}

func TestComputeAdjustedSetpointDetoursAroundObstacleOnPath(t *testing.T) {
	p := New()
	p.SetTarget(400, 0, 50)
	p.UpdateObstacles([]models.Obstacle{{ID: "1", X: 200, Y: 0}})

	adjusted := p.ComputeAdjustedSetpoint(0, 0)
	assert.Equal(t, 200, adjusted.TargetX)
	assert.Equal(t, 100, adjusted.TargetY)
}

func TestComputeAdjustedSetpointIgnoresObstacleOutsideAvoidanceRadius(t *testing.T) {
	p := New()
	p.SetTarget(400, 0, 50)
	p.UpdateObstacles([]models.Obstacle{{ID: "1", X: 200, Y: 200}})

	adjusted := p.ComputeAdjustedSetpoint(0, 0)
	assert.Equal(t, 400, adjusted.TargetX)
	assert.Equal(t, 0, adjusted.TargetY)
}

func TestComputeAdjustedSetpointBelowMinimumDistanceReturnsStored(t *testing.T) {
	p := New()
	p.SetTarget(100, 100, 50)
	adjusted := p.ComputeAdjustedSetpoint(100, 100)
	assert.Equal(t, 100, adjusted.TargetX)
	assert.Equal(t, 100, adjusted.TargetY)
}

func TestHeadingToTargetUsesNaturalAtanRange(t *testing.T) {
	p := New()
	p.SetTarget(0, 100, 0)
	heading := p.HeadingToTarget(0, 0)
	assert.Equal(t, 90, heading)
}
