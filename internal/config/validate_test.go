// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_DefaultConfigPasses(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidate_RejectsInvertedWorkspaceBounds(t *testing.T) {
	cfg := Default()
	cfg.Workspace.BaseXMin = 2
	cfg.Workspace.BaseXMax = -2
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "workspace.base_x")
}

func TestValidate_RejectsIdleTimeoutLongerThanMaxDuration(t *testing.T) {
	cfg := Default()
	cfg.Lease.IdleTimeout = cfg.Lease.MaxDuration + 1
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lease.idle_timeout")
}

func TestValidate_RejectsOutOfRangeAutoRewindPercentage(t *testing.T) {
	cfg := Default()
	cfg.Rewind.AutoRewindPercentage = 150
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rewind.auto_rewind_percentage")
}

func TestValidate_RejectsEmptyInterpreterPath(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.InterpreterPath = ""
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox.interpreter_path")
}
