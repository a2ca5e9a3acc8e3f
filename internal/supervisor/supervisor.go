// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor defines the core's only seam to the external
// process supervisor that manages backend driver processes (§6
// "Supervisor interface"). The supervisor process itself — and the
// actual spawning of driver binaries — is out of scope; this package
// is the interface contract plus the dependency DAG that gates starts,
// which is in scope regardless of what implements the interface.
package supervisor

import (
	"context"
	"fmt"
)

// Status is a managed service's last known state.
type Status struct {
	Name    string
	Running bool
	PID     int
}

// Supervisor is the contract the core uses against the external
// process manager: start/stop/restart a named service and query its
// status. The core never shells out to manage these processes itself.
type Supervisor interface {
	StartService(ctx context.Context, name string) (Status, error)
	StopService(ctx context.Context, name string) error
	RestartService(ctx context.Context, name string) (Status, error)
	GetStatus(ctx context.Context, name string) (Status, error)
}

// Known service names (§6).
const (
	ServiceUnlock       = "unlock"
	ServiceBaseServer   = "base_server"
	ServiceFrankaServer = "franka_server"
	ServiceController   = "controller"
	ServiceGripperServer = "gripper_server"
	ServiceCameraServer = "camera_server"
)

// DefaultDependencies is the dependency DAG this deployment declares:
// the actuation services depend on the low-level drivers they drive,
// and unlock (the brake release) must come up before anything that
// commands motion. Not named explicitly by spec, chosen to match the
// component list's natural startup order (Open Question, see DESIGN.md).
var DefaultDependencies = map[string][]string{
	ServiceUnlock:        nil,
	ServiceBaseServer:    nil,
	ServiceFrankaServer:  {ServiceUnlock},
	ServiceGripperServer: {ServiceFrankaServer},
	ServiceCameraServer:  nil,
	ServiceController:    {ServiceBaseServer, ServiceFrankaServer, ServiceGripperServer},
}

// DAG enforces "a dependency DAG forbids starting a service while any
// declared dependency is down" (§6) independent of whatever concrete
// Supervisor implementation is wired in.
type DAG struct {
	deps map[string][]string
}

// NewDAG builds a DAG from a service-name -> dependency-names map.
func NewDAG(deps map[string][]string) *DAG {
	return &DAG{deps: deps}
}

// Dependencies returns the declared dependencies of name, or nil if
// name has none or is unknown to the DAG.
func (d *DAG) Dependencies(name string) []string {
	return d.deps[name]
}

// CheckStart reports whether name may start given isRunning's current
// answer for each service. It returns the first down dependency found,
// or an empty string if every dependency is up.
func (d *DAG) CheckStart(name string, isRunning func(service string) bool) (blockedOn string, err error) {
	for _, dep := range d.deps[name] {
		if !isRunning(dep) {
			return dep, fmt.Errorf("cannot start %q: dependency %q is not running", name, dep)
		}
	}
	return "", nil
}
