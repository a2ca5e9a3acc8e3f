// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package envelope

import (
	"testing"

	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/config"
	"github.com/stretchr/testify/assert"
)

func testWorkspace() config.Workspace {
	return config.Workspace{
		BaseXMin: -1, BaseXMax: 1, BaseYMin: -1, BaseYMax: 1,
		ArmXMin: -0.5, ArmXMax: 0.5, ArmYMin: -0.5, ArmYMax: 0.5, ArmZMin: 0, ArmZMax: 1,
		BaseLinearVelCap: 0.5, BaseAngularVelCap: 1.0,
		ArmJointVelCap:  1.5,
		GripperForceCap: 20,
	}
}

func TestCheckBasePose(t *testing.T) {
	e := New(testWorkspace())

	cases := []struct {
		name    string
		x, y    float64
		wantErr bool
	}{
		{"inside", 0, 0, false},
		{"x too high", 6.0, 0, true},
		{"y too low", 0, -6.0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rej := e.CheckBasePose(c.x, c.y, 0)
			if c.wantErr {
				assert.NotNil(t, rej)
				assert.Equal(t, apierr.ROutOfBounds, rej.Reason)
			} else {
				assert.Nil(t, rej)
			}
		})
	}
}

func TestCheckBaseVelocity(t *testing.T) {
	e := New(testWorkspace())
	assert.Nil(t, e.CheckBaseVelocity(0.1, 0.1, 0.2))
	assert.NotNil(t, e.CheckBaseVelocity(1, 1, 0))
	assert.NotNil(t, e.CheckBaseVelocity(0, 0, 5))
}

func TestCheckArmCartesian(t *testing.T) {
	e := New(testWorkspace())
	var inBounds [16]float64
	inBounds[12], inBounds[13], inBounds[14] = 0.1, 0.1, 0.1
	assert.Nil(t, e.CheckArmCartesian(inBounds))

	var outOfBounds [16]float64
	outOfBounds[12], outOfBounds[13], outOfBounds[14] = 5, 0, 0
	assert.NotNil(t, e.CheckArmCartesian(outOfBounds))
}

func TestCheckArmJointVelocity(t *testing.T) {
	e := New(testWorkspace())
	assert.Nil(t, e.CheckArmJointVelocity([7]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}))
	assert.NotNil(t, e.CheckArmJointVelocity([7]float64{0, 0, 0, 5, 0, 0, 0}))
}

func TestCheckGripperForce(t *testing.T) {
	e := New(testWorkspace())
	assert.Nil(t, e.CheckGripperForce(5))
	assert.NotNil(t, e.CheckGripperForce(50))
}
