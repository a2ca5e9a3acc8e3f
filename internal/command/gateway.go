// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package command is the command gateway (§4.E): every actuation
// request passes lease, backend-connectivity, and safety-envelope
// checks, in that order, before it reaches a backend driver.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robotlab/robotd/internal/apierr"
	"github.com/robotlab/robotd/internal/backend"
	"github.com/robotlab/robotd/internal/bus"
	"github.com/robotlab/robotd/internal/config"
	"github.com/robotlab/robotd/internal/envelope"
	xglog "github.com/robotlab/robotd/internal/log"
	"github.com/robotlab/robotd/internal/metrics"
)

// TopicFeedback is the bus topic carrying cmd_result/cmd_rejected events.
const TopicFeedback = "command.feedback"

// LeaseChecker is the subset of *lease.Manager the gateway depends on.
type LeaseChecker interface {
	ValidateLease(leaseID string) bool
	RecordCommand()
}

// Gateway dispatches validated commands to the backend set.
type Gateway struct {
	backends backend.Set
	lease    LeaseChecker
	bus      bus.Bus
	envFn    func() envelope.Envelope
	gripFn   func() config.Gripper
	clock    func() time.Time

	velMu        sync.Mutex
	velActive    bool
	velVx, velVy float64
	velOmega     float64
	velAt        time.Time
}

// New builds a Gateway. envFn and gripFn are called per-command so
// config hot-reloads take effect without restart.
func New(backends backend.Set, lease LeaseChecker, b bus.Bus, envFn func() envelope.Envelope, gripFn func() config.Gripper) *Gateway {
	return &Gateway{backends: backends, lease: lease, bus: b, envFn: envFn, gripFn: gripFn, clock: time.Now}
}

// LastBaseVelocityCommand reports the most recent base velocity-mode
// command, for the safety monitor's collision check (§4.G). active is
// false once a position move or stop has superseded it.
func (g *Gateway) LastBaseVelocityCommand() (vx, vy, omega float64, at time.Time, active bool) {
	g.velMu.Lock()
	defer g.velMu.Unlock()
	return g.velVx, g.velVy, g.velOmega, g.velAt, g.velActive
}

func (g *Gateway) recordVelocityCommand(vx, vy, omega float64) {
	g.velMu.Lock()
	defer g.velMu.Unlock()
	g.velActive = true
	g.velVx, g.velVy, g.velOmega = vx, vy, omega
	g.velAt = g.clock()
}

func (g *Gateway) clearVelocityCommand() {
	g.velMu.Lock()
	defer g.velMu.Unlock()
	g.velActive = false
}

// Result is returned on successful dispatch.
type Result struct {
	CmdID string `json:"cmd_id"`
}

// preflight runs the lease and connectivity checks common to every
// command handler (§4.E steps 1-2).
func (g *Gateway) preflight(leaseID string, connected bool) (string, *apierr.Rejection) {
	cmdID := uuid.NewString()
	if leaseID == "" {
		return cmdID, g.reject(cmdID, apierr.RNoLease, "no lease id supplied")
	}
	if g.lease == nil || !g.lease.ValidateLease(leaseID) {
		return cmdID, g.reject(cmdID, apierr.RInvalidLease, "lease id does not match the current lease")
	}
	if !connected {
		return cmdID, g.reject(cmdID, apierr.RBackendUnavailable, "target backend is not connected")
	}
	return cmdID, nil
}

func (g *Gateway) reject(cmdID string, reason apierr.Reason, detail string) *apierr.Rejection {
	rej := apierr.New(cmdID, reason, detail)
	metrics.IncCommandReject("", string(reason))
	g.publish(map[string]any{
		"type":   "cmd_rejected",
		"cmd_id": cmdID,
		"reason": string(reason),
		"detail": detail,
	})
	return rej
}

func (g *Gateway) succeed(kind, cmdID string, start time.Time) *Result {
	if g.lease != nil {
		g.lease.RecordCommand()
	}
	metrics.ObserveCommandDispatch(kind, g.clock().Sub(start).Seconds())
	g.publish(map[string]any{"type": "cmd_result", "cmd_id": cmdID, "kind": kind})
	return &Result{CmdID: cmdID}
}

func (g *Gateway) publish(event map[string]any) {
	if g.bus == nil {
		return
	}
	_ = g.bus.Publish(context.Background(), TopicFeedback, event)
}

// BaseMoveRequest is a position- or velocity-mode base move.
type BaseMoveRequest struct {
	Velocity bool
	Frame    backend.BaseFrame
	X, Y, Theta       float64
	Vx, Vy, Omega     float64
}

// BaseMove dispatches a base position or velocity command.
func (g *Gateway) BaseMove(ctx context.Context, leaseID string, req BaseMoveRequest) (*Result, *apierr.Rejection) {
	start := g.clock()
	connected := g.backends.Base != nil && g.backends.Base.IsConnected()
	cmdID, rej := g.preflight(leaseID, connected)
	if rej != nil {
		return nil, rej
	}

	env := g.envFn()
	if req.Velocity {
		if check := env.CheckBaseVelocity(req.Vx, req.Vy, req.Omega); check != nil {
			check.CmdID = cmdID
			return nil, g.reject(cmdID, check.Reason, check.Detail)
		}
	} else {
		if check := env.CheckBasePose(req.X, req.Y, req.Theta); check != nil {
			check.CmdID = cmdID
			return nil, g.reject(cmdID, check.Reason, check.Detail)
		}
	}

	var err error
	if req.Velocity {
		err = g.backends.Base.SetTargetVelocity(ctx, req.Vx, req.Vy, req.Omega, req.Frame)
		if err == nil {
			g.recordVelocityCommand(req.Vx, req.Vy, req.Omega)
		}
	} else {
		err = g.backends.Base.ExecuteAction(ctx, req.X, req.Y, req.Theta)
		if err == nil {
			g.clearVelocityCommand()
		}
	}
	if err != nil {
		xglog.WithComponent("command").Warn().Err(err).Msg("base move dispatch failed")
		return nil, g.reject(cmdID, apierr.RBackendUnavailable, err.Error())
	}
	return g.succeed("base_move", cmdID, start), nil
}

// BaseStop dispatches an immediate base stop.
func (g *Gateway) BaseStop(ctx context.Context, leaseID string) (*Result, *apierr.Rejection) {
	start := g.clock()
	connected := g.backends.Base != nil && g.backends.Base.IsConnected()
	cmdID, rej := g.preflight(leaseID, connected)
	if rej != nil {
		return nil, rej
	}
	if err := g.backends.Base.Stop(ctx); err != nil {
		return nil, g.reject(cmdID, apierr.RBackendUnavailable, err.Error())
	}
	g.clearVelocityCommand()
	return g.succeed("base_stop", cmdID, start), nil
}

// ArmMoveKind selects which arm actuation surface a request targets.
type ArmMoveKind string

const (
	ArmJointPosition    ArmMoveKind = "joint_position"
	ArmCartesianPose    ArmMoveKind = "cartesian_pose"
	ArmJointVelocity    ArmMoveKind = "joint_velocity"
	ArmCartesianVelocity ArmMoveKind = "cartesian_velocity"
)

// ArmMoveRequest covers all four arm-move variants; only the field
// matching Kind is read.
type ArmMoveRequest struct {
	Kind     ArmMoveKind
	Q        [7]float64
	Pose16   [16]float64
	DQ       [7]float64
	Vel6     [6]float64
	Blocking bool
}

// ArmMove dispatches one of the four arm-move variants.
func (g *Gateway) ArmMove(ctx context.Context, leaseID string, req ArmMoveRequest) (*Result, *apierr.Rejection) {
	start := g.clock()
	connected := g.backends.Arm != nil && g.backends.Arm.IsConnected()
	cmdID, rej := g.preflight(leaseID, connected)
	if rej != nil {
		return nil, rej
	}

	env := g.envFn()
	switch req.Kind {
	case ArmCartesianPose:
		if check := env.CheckArmCartesian(req.Pose16); check != nil {
			check.CmdID = cmdID
			return nil, g.reject(cmdID, check.Reason, check.Detail)
		}
	case ArmJointVelocity:
		if check := env.CheckArmJointVelocity(req.DQ); check != nil {
			check.CmdID = cmdID
			return nil, g.reject(cmdID, check.Reason, check.Detail)
		}
	}
	// Cartesian-velocity commands have no dedicated static envelope check
	// (§4.B lists only joint-velocity and cartesian-pose checks for the
	// arm); dispatch proceeds straight to the backend.

	var err error
	switch req.Kind {
	case ArmJointPosition:
		err = g.backends.Arm.SendJointPosition(ctx, req.Q, req.Blocking)
	case ArmCartesianPose:
		err = g.backends.Arm.SendCartesianPose(ctx, req.Pose16)
	case ArmJointVelocity:
		err = g.backends.Arm.SendJointVelocity(ctx, req.DQ)
	case ArmCartesianVelocity:
		err = g.backends.Arm.SendCartesianVelocity(ctx, req.Vel6)
	default:
		return nil, g.reject(cmdID, apierr.RInvalidMode, "unknown arm move kind")
	}
	if err != nil {
		xglog.WithComponent("command").Warn().Err(err).Msg("arm move dispatch failed")
		return nil, g.reject(cmdID, apierr.RBackendUnavailable, err.Error())
	}
	return g.succeed("arm_move", cmdID, start), nil
}

// ArmStop dispatches an arm emergency stop.
func (g *Gateway) ArmStop(ctx context.Context, leaseID string) (*Result, *apierr.Rejection) {
	start := g.clock()
	connected := g.backends.Arm != nil && g.backends.Arm.IsConnected()
	cmdID, rej := g.preflight(leaseID, connected)
	if rej != nil {
		return nil, rej
	}
	if err := g.backends.Arm.EmergencyStop(ctx); err != nil {
		return nil, g.reject(cmdID, apierr.RBackendUnavailable, err.Error())
	}
	return g.succeed("arm_stop", cmdID, start), nil
}

// GripperAction selects a gripper operation.
type GripperAction string

const (
	GripperActivate  GripperAction = "activate"
	GripperMove      GripperAction = "move"
	GripperOpen      GripperAction = "open"
	GripperClose     GripperAction = "close"
	GripperGrasp     GripperAction = "grasp"
	GripperStop      GripperAction = "stop"
	GripperCalibrate GripperAction = "calibrate"
)

// GripperRequest covers all seven gripper operations. WidthMeters takes
// priority over RawPosition for Move when both are set (HasWidth true).
type GripperRequest struct {
	Action      GripperAction
	RawPosition uint8
	WidthMeters float64
	HasWidth    bool
	Speed, Force float64
}

// Gripper dispatches a gripper operation, converting a calibrated-width
// Move request into the backend's raw 0-255 position range.
func (g *Gateway) Gripper(ctx context.Context, leaseID string, req GripperRequest) (*Result, *apierr.Rejection) {
	start := g.clock()
	connected := g.backends.Gripper != nil && g.backends.Gripper.IsConnected()
	cmdID, rej := g.preflight(leaseID, connected)
	if rej != nil {
		return nil, rej
	}

	if req.Action == GripperMove {
		if check := g.envFn().CheckGripperForce(req.Force); check != nil {
			check.CmdID = cmdID
			return nil, g.reject(cmdID, check.Reason, check.Detail)
		}
	}

	var err error
	switch req.Action {
	case GripperActivate:
		err = g.backends.Gripper.Activate(ctx)
	case GripperMove:
		pos := req.RawPosition
		if req.HasWidth {
			pos = widthToRaw(req.WidthMeters, g.gripFn())
		}
		_, _, err = g.backends.Gripper.Move(ctx, pos, req.Speed, req.Force)
	case GripperOpen:
		err = g.backends.Gripper.Open(ctx)
	case GripperClose:
		err = g.backends.Gripper.Close(ctx)
	case GripperGrasp:
		err = g.backends.Gripper.Grasp(ctx)
	case GripperStop:
		err = g.backends.Gripper.Stop(ctx)
	case GripperCalibrate:
		err = g.backends.Gripper.Calibrate(ctx)
	default:
		return nil, g.reject(cmdID, apierr.RInvalidAction, "unknown gripper action")
	}
	if err != nil {
		xglog.WithComponent("command").Warn().Err(err).Msg("gripper dispatch failed")
		return nil, g.reject(cmdID, apierr.RBackendUnavailable, err.Error())
	}
	return g.succeed("gripper", cmdID, start), nil
}

// widthToRaw converts a calibrated gripper opening in meters to the
// driver's raw 255 (closed) - 0 (fully open) range.
func widthToRaw(widthMeters float64, cfg config.Gripper) uint8 {
	if cfg.MaxWidthMeters <= 0 {
		return 0
	}
	frac := widthMeters / cfg.MaxWidthMeters
	switch {
	case frac <= 0:
		return 255
	case frac >= 1:
		return 0
	default:
		return uint8((1 - frac) * 255)
	}
}
