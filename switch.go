package relaykit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/charmbracelet/log"

	"github.com/hubertat/relaykit/drivers"
)

// SwitchController reconciles input events, external commands, configuration
// and the auto-off timer into a single commanded output state. All entry
// points serialize on one mutex, calls run to completion one at a time.
type SwitchController struct {
	id int

	in  drivers.DigitalInput
	out drivers.DigitalOutput
	pm  drivers.PowerMeter

	cfg   *SwitchConfig
	store ConfigStore

	notifiers []StateNotifier

	handlerId    drivers.HandlerID
	subscribed   bool
	closed       bool
	autoOffTimer *time.Timer

	hkAcc *accessory.A

	logger *log.Logger
	lock   sync.Mutex
}

// NewSwitchController wires a controller to its peripherals. Input and power
// meter may be nil; a missing input is distinct from InModeDetached, which
// keeps the subscription but drops events at dispatch.
func NewSwitchController(id int, in drivers.DigitalInput, out drivers.DigitalOutput, pm drivers.PowerMeter, cfg *SwitchConfig, store ConfigStore) *SwitchController {
	return &SwitchController{
		id:    id,
		in:    in,
		out:   out,
		pm:    pm,
		cfg:   cfg,
		store: store,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "SwitchController: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (sc *SwitchController) Id() int {
	return sc.id
}

func (sc *SwitchController) Type() ComponentType {
	switch sc.cfg.SvcType {
	case 1:
		return TypeOutlet
	case 2:
		return TypeLock
	}
	return TypeSwitch
}

// AddStateNotifier registers an observer raised once per actual output
// transition.
func (sc *SwitchController) AddStateNotifier(n StateNotifier) {
	sc.notifiers = append(sc.notifiers, n)
}

// Init applies the initial-state policy and subscribes to input changes.
// Disabled switches short-circuit successfully without any wiring.
func (sc *SwitchController) Init() error {
	if !sc.cfg.Enable {
		sc.logger.Info("switch is disabled", "name", sc.cfg.Name)
		return nil
	}

	sc.lock.Lock()
	switch sc.cfg.InitialState {
	case InitialOff:
		sc.setState(false, "init", false)
	case InitialOn:
		sc.setState(true, "init", false)
	case InitialLast:
		sc.setState(sc.cfg.State, "init", false)
	case InitialInput:
		if sc.in != nil && sc.cfg.InMode == InModeToggle {
			sc.setState(sc.in.GetState(), "init", false)
		}
	}
	sc.lock.Unlock()

	sc.logger.Info("exporting switch", "name", sc.cfg.Name, "svc_type", sc.cfg.SvcType, "state", sc.out.GetState())

	// Subscription does not depend on InMode: detached inputs are filtered
	// at dispatch so mode changes apply without rewiring.
	if sc.in != nil {
		sc.handlerId = sc.in.AddHandler(sc.InputEventHandler)
		sc.subscribed = true
	}

	return nil
}

// SetState commands the output, tagging the change with a source label for
// diagnostics.
func (sc *SwitchController) SetState(newState bool, source string) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.setState(newState, source, false)
}

func (sc *SwitchController) setState(newState bool, source string, isAutoOff bool) {
	curState := sc.out.GetState()
	sc.out.SetState(newState, source)

	if sc.cfg.State != newState {
		sc.cfg.State = newState
		if sc.store != nil {
			err := sc.store.Save()
			if err != nil {
				sc.logger.Warn("failed to persist switch state", "id", sc.id, "err", err)
			}
		}
	}

	if newState == curState {
		return
	}

	for _, n := range sc.notifiers {
		n.RaiseEvent()
	}

	// Cancel the outstanding timer so only the last transition's timer can
	// ever fire.
	if sc.autoOffTimer != nil {
		sc.autoOffTimer.Stop()
		sc.autoOffTimer = nil
	}

	if sc.cfg.AutoOff && !isAutoOff {
		delay := time.Duration(sc.cfg.AutoOffDelay * float64(time.Second))
		sc.autoOffTimer = time.AfterFunc(delay, sc.autoOffExpired)
		sc.logger.Info("set auto-off timer", "id", sc.id, "delay", sc.cfg.AutoOffDelay)
	}
}

func (sc *SwitchController) autoOffExpired() {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	// The timer may have fired just before Close stopped it; a closed
	// controller must not actuate.
	if sc.closed {
		return
	}

	sc.autoOffTimer = nil
	// Don't set state if auto-off has been disabled during the timer run.
	if sc.cfg.AutoOff {
		sc.setState(false, "auto_off", true)
	}
}

// InputEventHandler dispatches input change events according to the
// configured input mode. Events other than level changes are ignored.
func (sc *SwitchController) InputEventHandler(ev drivers.InputEvent, state bool) {
	if ev != drivers.EventChange {
		return
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()

	if sc.closed {
		return
	}

	switch sc.cfg.InMode {
	case InModeMomentary:
		// Only 0 -> 1 transitions toggle.
		if state {
			sc.setState(!sc.out.GetState(), "button", false)
		}
	case InModeToggle:
		sc.setState(state, "switch", false)
	case InModeEdge:
		sc.setState(!sc.out.GetState(), "button", false)
	case InModeDetached:
		// Nothing to do.
	}
}

// SetConfig applies a partial config update. Validation runs before any
// field is mutated; on failure the config is left untouched.
func (sc *SwitchController) SetConfig(raw json.RawMessage) (restartRequired bool, err error) {
	upd := struct {
		Name         *string  `json:"name"`
		SvcType      *int     `json:"svc_type"`
		InMode       *int     `json:"in_mode"`
		InitialState *int     `json:"initial_state"`
		AutoOff      *bool    `json:"auto_off"`
		AutoOffDelay *float64 `json:"auto_off_delay"`
	}{}

	err = json.Unmarshal(raw, &upd)
	if err != nil {
		return false, &InvalidArgumentError{Field: "config"}
	}

	if upd.Name != nil && len(*upd.Name) > maxNameLength {
		return false, &InvalidArgumentError{Field: "name"}
	}
	if upd.SvcType != nil && (*upd.SvcType < -1 || *upd.SvcType > 2) {
		return false, &InvalidArgumentError{Field: "svc_type"}
	}
	if upd.InMode != nil && (*upd.InMode < int(InModeMomentary) || *upd.InMode > int(InModeDetached)) {
		return false, &InvalidArgumentError{Field: "in_mode"}
	}
	if upd.InitialState != nil && (*upd.InitialState < int(InitialOff) || *upd.InitialState > int(InitialInput)) {
		return false, &InvalidArgumentError{Field: "initial_state"}
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()

	if upd.Name != nil && *upd.Name != sc.cfg.Name {
		sc.cfg.Name = *upd.Name
		restartRequired = true
	}
	if upd.SvcType != nil && *upd.SvcType != sc.cfg.SvcType {
		sc.cfg.SvcType = *upd.SvcType
		restartRequired = true
	}
	if upd.InMode != nil && InMode(*upd.InMode) != sc.cfg.InMode {
		// Crossing into or out of detached changes the exposed topology
		// and cannot be applied live.
		if sc.cfg.InMode == InModeDetached || InMode(*upd.InMode) == InModeDetached {
			restartRequired = true
		}
		sc.cfg.InMode = InMode(*upd.InMode)
	}
	if upd.InitialState != nil {
		sc.cfg.InitialState = InitialState(*upd.InitialState)
	}
	if upd.AutoOff != nil {
		sc.cfg.AutoOff = *upd.AutoOff
	}
	if upd.AutoOffDelay != nil {
		sc.cfg.AutoOffDelay = *upd.AutoOffDelay
	}

	return restartRequired, nil
}

// GetInfo returns the status snapshot. Unavailable power readings are
// omitted, never an error.
func (sc *SwitchController) GetInfo() ComponentInfo {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	info := ComponentInfo{
		Id:           sc.id,
		Type:         sc.Type(),
		Name:         sc.cfg.Name,
		SvcType:      sc.cfg.SvcType,
		InMode:       sc.cfg.InMode,
		InitialState: sc.cfg.InitialState,
		State:        sc.out.GetState(),
		AutoOff:      sc.cfg.AutoOff,
		AutoOffDelay: sc.cfg.AutoOffDelay,
	}

	if sc.pm != nil {
		power, err := sc.pm.GetPowerW()
		if err == nil {
			info.APower = &power
		}
		energy, err := sc.pm.GetEnergyWH()
		if err == nil {
			info.AEnergy = &energy
		}
	}

	return info
}

// Close cancels the pending auto-off timer and unsubscribes from the input,
// in that order, so no callback can fire into a released controller.
func (sc *SwitchController) Close() {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.closed = true
	if sc.autoOffTimer != nil {
		sc.autoOffTimer.Stop()
		sc.autoOffTimer = nil
	}
	if sc.subscribed {
		sc.in.RemoveHandler(sc.handlerId)
		sc.subscribed = false
	}
}

// currentState reads the actuated output without taking the controller lock,
// safe to call from notifiers raised inside setState.
func (sc *SwitchController) currentState() bool {
	return sc.out.GetState()
}
