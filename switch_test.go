package relaykit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hubertat/relaykit/drivers"
)

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func newTestSwitch(t testing.TB, cfg *SwitchConfig) (*SwitchController, *drivers.MockInput, *drivers.MockOutput) {
	t.Helper()

	md := &drivers.MockIoDriver{}
	err := md.Setup(context.Background(), []uint16{13}, []uint16{4})
	if err != nil {
		t.Fatalf("mock driver setup failed: %v", err)
	}

	in, err := md.GetInput(13)
	if err != nil {
		t.Fatalf("failed to get mock input: %v", err)
	}
	out, err := md.GetOutput(4)
	if err != nil {
		t.Fatalf("failed to get mock output: %v", err)
	}

	sc := NewSwitchController(1, in, out, nil, cfg, nil)
	return sc, in.(*drivers.MockInput), out.(*drivers.MockOutput)
}

type countingNotifier struct {
	events int
}

func (cn *countingNotifier) RaiseEvent() {
	cn.events++
}

type countingStore struct {
	saves int
}

func (cs *countingStore) Save() error {
	cs.saves++
	return nil
}

func TestInitDisabled(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: false, InMode: InModeToggle, InitialState: InitialOn}
	sc, in, out := newTestSwitch(t, cfg)

	err := sc.Init()
	if err != nil {
		t.Fatalf("Init of disabled switch returned error: %v", err)
	}

	assertBools(t, out.GetState(), false)

	// No subscription happened, input events must not reach the output.
	in.Set(true)
	assertBools(t, out.GetState(), false)
}

func TestInitInitialStateOff(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, State: true, InitialState: InitialOff}
	sc, _, out := newTestSwitch(t, cfg)

	out.SetState(true, "test")
	sc.Init()
	assertBools(t, out.GetState(), false)
}

func TestInitInitialStateOn(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InitialState: InitialOn}
	sc, _, out := newTestSwitch(t, cfg)

	sc.Init()
	assertBools(t, out.GetState(), true)
}

func TestInitInitialStateLast(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, State: true, InitialState: InitialLast}
	sc, _, out := newTestSwitch(t, cfg)

	sc.Init()
	assertBools(t, out.GetState(), true)

	cfg = &SwitchConfig{Name: "sw", Enable: true, State: false, InitialState: InitialLast}
	sc, _, out = newTestSwitch(t, cfg)
	out.SetState(true, "test")

	sc.Init()
	assertBools(t, out.GetState(), false)
}

func TestInitInitialStateInput(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeToggle, InitialState: InitialInput}
	sc, in, out := newTestSwitch(t, cfg)

	in.State = true
	sc.Init()
	assertBools(t, out.GetState(), true)

	// Input policy only applies in toggle mode.
	cfg = &SwitchConfig{Name: "sw", Enable: true, InMode: InModeMomentary, InitialState: InitialInput}
	sc, in, out = newTestSwitch(t, cfg)

	in.State = true
	sc.Init()
	assertBools(t, out.GetState(), false)
}

func TestMomentaryMode(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeMomentary}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	// Rising edge toggles.
	in.Set(true)
	assertBools(t, out.GetState(), true)

	// Falling edge is ignored.
	in.Set(false)
	assertBools(t, out.GetState(), true)

	// Second rising edge toggles back.
	in.Set(true)
	assertBools(t, out.GetState(), false)
}

func TestMomentarySequenceTogglesTwice(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeMomentary}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	setCountBefore := out.SetCount

	// 0 -> 1 -> 0 -> 1: exactly two toggles, one per rising edge.
	in.Set(true)
	in.Set(false)
	in.Set(true)

	assertBools(t, out.GetState(), false)
	if got := out.SetCount - setCountBefore; got != 2 {
		t.Errorf("expected 2 output commands, got %d", got)
	}
}

func TestToggleMode(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeToggle}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	in.Set(true)
	assertBools(t, out.GetState(), true)

	in.Set(false)
	assertBools(t, out.GetState(), false)

	in.Set(true)
	assertBools(t, out.GetState(), true)
}

func TestEdgeMode(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeEdge}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	in.Set(true)
	assertBools(t, out.GetState(), true)

	in.Set(false)
	assertBools(t, out.GetState(), false)

	in.Set(true)
	assertBools(t, out.GetState(), true)
}

func TestDetachedMode(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeDetached}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	in.Set(true)
	in.Set(false)
	in.Set(true)

	assertBools(t, out.GetState(), false)
}

func TestNonChangeEventsIgnored(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeToggle}
	sc, _, out := newTestSwitch(t, cfg)
	sc.Init()

	sc.InputEventHandler(drivers.EventSinglePress, true)
	sc.InputEventHandler(drivers.EventLongPress, true)
	assertBools(t, out.GetState(), false)
}

func TestSetStateSourceLabel(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true}
	sc, _, out := newTestSwitch(t, cfg)

	sc.SetState(true, "rpc")
	if out.LastSource != "rpc" {
		t.Errorf("expected source label rpc, got %s", out.LastSource)
	}
}

func TestNotifiersRaisedOncePerTransition(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true}
	sc, _, _ := newTestSwitch(t, cfg)

	cn := &countingNotifier{}
	sc.AddStateNotifier(cn)

	sc.SetState(true, "test")
	sc.SetState(true, "test")
	sc.SetState(false, "test")

	if cn.events != 2 {
		t.Errorf("expected 2 raised events, got %d", cn.events)
	}
}

func TestStatePersistedOnlyOnChange(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true}
	sc, _, out := newTestSwitch(t, cfg)

	cs := &countingStore{}
	sc.store = cs

	sc.SetState(true, "test")
	if cs.saves != 1 {
		t.Errorf("expected 1 save after transition, got %d", cs.saves)
	}
	assertBools(t, cfg.State, true)

	// Commanding the same state again must not write.
	sc.SetState(true, "test")
	if cs.saves != 1 {
		t.Errorf("expected no save without state change, got %d", cs.saves)
	}

	// Persisted state mirrors last commanded state even when the output was
	// already there.
	out.SetState(false, "test")
	cfg.State = true
	sc.SetState(false, "test")
	assertBools(t, cfg.State, false)
	if cs.saves != 2 {
		t.Errorf("expected save when persisted state differs, got %d", cs.saves)
	}
}

func TestAutoOff(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, AutoOff: true, AutoOffDelay: 0.05}
	sc, _, out := newTestSwitch(t, cfg)

	sc.SetState(true, "test")
	assertBools(t, out.GetState(), true)

	time.Sleep(120 * time.Millisecond)
	assertBools(t, out.GetState(), false)
	if out.LastSource != "auto_off" {
		t.Errorf("expected auto_off source, got %s", out.LastSource)
	}
}

func TestAutoOffTimerSuperseded(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, AutoOff: true, AutoOffDelay: 0.1}
	sc, _, out := newTestSwitch(t, cfg)

	sc.SetState(true, "test")

	// A later transition supersedes the first timer, the delay restarts.
	time.Sleep(50 * time.Millisecond)
	sc.SetState(false, "test")
	sc.SetState(true, "test")

	time.Sleep(70 * time.Millisecond)
	assertBools(t, out.GetState(), true)

	time.Sleep(80 * time.Millisecond)
	assertBools(t, out.GetState(), false)
}

func TestAutoOffDisabledDuringRun(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, AutoOff: true, AutoOffDelay: 0.05}
	sc, _, out := newTestSwitch(t, cfg)

	sc.SetState(true, "test")
	cfg.AutoOff = false

	time.Sleep(120 * time.Millisecond)
	assertBools(t, out.GetState(), true)
}

func TestAutoOffDoesNotRearmItself(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, AutoOff: true, AutoOffDelay: 0.03}
	sc, _, out := newTestSwitch(t, cfg)

	cn := &countingNotifier{}
	sc.AddStateNotifier(cn)

	sc.SetState(true, "test")
	time.Sleep(120 * time.Millisecond)

	assertBools(t, out.GetState(), false)
	// One raise for on, one for auto-off; a re-armed auto-off would add more.
	if cn.events != 2 {
		t.Errorf("expected 2 raised events, got %d", cn.events)
	}
}

func TestCloseCancelsTimerAndUnsubscribes(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeToggle, AutoOff: true, AutoOffDelay: 0.05}
	sc, in, out := newTestSwitch(t, cfg)
	sc.Init()

	sc.SetState(true, "test")
	sc.Close()

	time.Sleep(120 * time.Millisecond)
	assertBools(t, out.GetState(), true)

	// Handler removed: input changes no longer reach the output.
	in.Set(false)
	assertBools(t, out.GetState(), true)
}

func TestLateCallbacksIgnoredAfterClose(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeToggle, AutoOff: true, AutoOffDelay: 0.05}
	sc, _, out := newTestSwitch(t, cfg)
	sc.Init()

	sc.SetState(true, "test")
	sc.Close()

	// A timer callback that already fired and lost the race with Close must
	// not actuate the output.
	sc.autoOffExpired()
	assertBools(t, out.GetState(), true)

	sc.InputEventHandler(drivers.EventChange, false)
	assertBools(t, out.GetState(), true)
}

func TestSetConfigPartialUpdate(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, SvcType: -1, InMode: InModeToggle, InitialState: InitialLast, AutoOffDelay: 5}
	sc, _, _ := newTestSwitch(t, cfg)

	restart, err := sc.SetConfig(json.RawMessage(`{"auto_off": true, "auto_off_delay": 2.5}`))
	if err != nil {
		t.Fatalf("SetConfig returned error: %v", err)
	}
	assertBools(t, restart, false)

	info := sc.GetInfo()
	assertBools(t, info.AutoOff, true)
	if info.AutoOffDelay != 2.5 {
		t.Errorf("expected auto_off_delay 2.5, got %f", info.AutoOffDelay)
	}
	// Unspecified fields keep prior values.
	if info.Name != "sw" || info.SvcType != -1 || info.InMode != InModeToggle || info.InitialState != InitialLast {
		t.Errorf("unexpected config after partial update: %+v", info)
	}
}

func TestSetConfigNameTooLong(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true}
	sc, _, _ := newTestSwitch(t, cfg)

	longName := strings.Repeat("x", 65)
	_, err := sc.SetConfig(json.RawMessage(`{"name": "` + longName + `"}`))

	invalidArg := &InvalidArgumentError{}
	if !errors.As(err, &invalidArg) || invalidArg.Field != "name" {
		t.Fatalf("expected InvalidArgumentError for name, got %v", err)
	}
	if cfg.Name != "sw" {
		t.Errorf("config mutated after failed validation: %s", cfg.Name)
	}

	// 64 bytes is still fine.
	okName := strings.Repeat("x", 64)
	_, err = sc.SetConfig(json.RawMessage(`{"name": "` + okName + `"}`))
	if err != nil {
		t.Errorf("64 byte name rejected: %v", err)
	}
}

func TestSetConfigValidationRanges(t *testing.T) {
	cases := []struct {
		payload string
		field   string
	}{
		{`{"svc_type": -2}`, "svc_type"},
		{`{"svc_type": 3}`, "svc_type"},
		{`{"in_mode": -1}`, "in_mode"},
		{`{"in_mode": 4}`, "in_mode"},
		{`{"initial_state": -1}`, "initial_state"},
		{`{"initial_state": 4}`, "initial_state"},
	}

	for _, c := range cases {
		cfg := &SwitchConfig{Name: "sw", Enable: true}
		sc, _, _ := newTestSwitch(t, cfg)

		_, err := sc.SetConfig(json.RawMessage(c.payload))
		invalidArg := &InvalidArgumentError{}
		if !errors.As(err, &invalidArg) || invalidArg.Field != c.field {
			t.Errorf("payload %s: expected InvalidArgumentError for %s, got %v", c.payload, c.field, err)
		}
	}
}

func TestSetConfigRestartRequired(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true, InMode: InModeDetached}
	sc, _, _ := newTestSwitch(t, cfg)

	// Crossing out of detached requires restart.
	restart, err := sc.SetConfig(json.RawMessage(`{"in_mode": 1}`))
	if err != nil {
		t.Fatalf("SetConfig returned error: %v", err)
	}
	assertBools(t, restart, true)

	// Crossing back into detached too.
	restart, _ = sc.SetConfig(json.RawMessage(`{"in_mode": 3}`))
	assertBools(t, restart, true)

	// Momentary to edge stays live.
	sc.cfg.InMode = InModeMomentary
	restart, _ = sc.SetConfig(json.RawMessage(`{"in_mode": 2}`))
	assertBools(t, restart, false)

	// Name change requires restart.
	restart, _ = sc.SetConfig(json.RawMessage(`{"name": "other"}`))
	assertBools(t, restart, true)

	// Same name does not.
	restart, _ = sc.SetConfig(json.RawMessage(`{"name": "other"}`))
	assertBools(t, restart, false)

	// svc_type change requires restart.
	restart, _ = sc.SetConfig(json.RawMessage(`{"svc_type": 1}`))
	assertBools(t, restart, true)

	// auto_off_delay alone stays live.
	restart, _ = sc.SetConfig(json.RawMessage(`{"auto_off_delay": 7}`))
	assertBools(t, restart, false)
}

func TestGetInfoPowerReadings(t *testing.T) {
	cfg := &SwitchConfig{Name: "sw", Enable: true}
	md := &drivers.MockIoDriver{}
	md.Setup(context.Background(), []uint16{13}, []uint16{4})
	in, _ := md.GetInput(13)
	out, _ := md.GetOutput(4)

	pm := &drivers.MockPowerMeter{PowerW: 42.5, EnergyWH: 1000, Available: true}
	sc := NewSwitchController(1, in, out, pm, cfg, nil)

	info := sc.GetInfo()
	if info.APower == nil || *info.APower != 42.5 {
		t.Errorf("expected apower 42.5, got %v", info.APower)
	}
	if info.AEnergy == nil || *info.AEnergy != 1000 {
		t.Errorf("expected aenergy 1000, got %v", info.AEnergy)
	}

	// Unavailable readings are omitted, never an error.
	pm.Available = false
	info = sc.GetInfo()
	if info.APower != nil || info.AEnergy != nil {
		t.Errorf("expected readings omitted, got %v %v", info.APower, info.AEnergy)
	}

	// No meter attached behaves the same.
	sc = NewSwitchController(1, in, out, nil, cfg, nil)
	info = sc.GetInfo()
	if info.APower != nil || info.AEnergy != nil {
		t.Errorf("expected readings omitted without meter, got %v %v", info.APower, info.AEnergy)
	}
}

func TestComponentType(t *testing.T) {
	cases := []struct {
		svcType int
		want    ComponentType
	}{
		{-1, TypeSwitch},
		{0, TypeSwitch},
		{1, TypeOutlet},
		{2, TypeLock},
	}

	for _, c := range cases {
		cfg := &SwitchConfig{Name: "sw", Enable: true, SvcType: c.svcType}
		sc, _, _ := newTestSwitch(t, cfg)
		if sc.Type() != c.want {
			t.Errorf("svc_type %d: expected %s, got %s", c.svcType, c.want, sc.Type())
		}
	}
}
