package relaykit

import (
	"fmt"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

// Accessory id bases keep HomeKit identifiers stable across layout changes
// for previously paired devices.
const (
	aidPrimary    = 0x1
	aidBaseSwitch = 0x100
)

type hkNotifier struct {
	on  *characteristic.On
	get func() bool
}

func (hn *hkNotifier) RaiseEvent() {
	hn.on.SetValue(hn.get())
}

// lockNotifier mirrors output transitions into both lock state
// characteristics, target first so HomeKit never shows a current state ahead
// of its target.
type lockNotifier struct {
	current *characteristic.LockCurrentState
	target  *characteristic.LockTargetState
	get     func() bool
}

func (ln *lockNotifier) RaiseEvent() {
	state := lockHkState(ln.get())
	ln.target.SetValue(state)
	ln.current.SetValue(state)
}

// Output on means the lock is secured.
func lockHkState(on bool) int {
	if on {
		return characteristic.LockCurrentStateSecured
	}
	return characteristic.LockCurrentStateUnsecured
}

func (sc *SwitchController) GetUniqueId() uint64 {
	return uint64(aidBaseSwitch + sc.id)
}

// SetupHk builds the HomeKit side of the switch: its service (picked by
// svc_type), the command characteristic wired to SetState, and a notifier
// pushing transitions back to the characteristics. With toPrimary the service
// lands on the bridge accessory instead of a dedicated one.
func (sc *SwitchController) SetupHk(toPrimary bool, bridge *accessory.Bridge) {
	var svc *service.S
	category := accessory.TypeSwitch

	switch sc.Type() {
	case TypeOutlet:
		s := service.NewOutlet()
		s.OutletInUse.SetValue(true)
		s.On.SetValue(sc.out.GetState())
		s.On.OnValueRemoteUpdate(func(v bool) {
			sc.SetState(v, "hap")
		})
		sc.AddStateNotifier(&hkNotifier{on: s.On, get: sc.currentState})
		svc = s.S
		category = accessory.TypeOutlet
	case TypeLock:
		s := service.NewLockMechanism()
		s.LockCurrentState.SetValue(lockHkState(sc.out.GetState()))
		s.LockTargetState.SetValue(lockHkState(sc.out.GetState()))
		s.LockTargetState.OnValueRemoteUpdate(func(v int) {
			sc.SetState(v == characteristic.LockTargetStateSecured, "hap")
		})
		sc.AddStateNotifier(&lockNotifier{
			current: s.LockCurrentState,
			target:  s.LockTargetState,
			get:     sc.currentState,
		})
		svc = s.S
		category = accessory.TypeDoorLock
	default:
		s := service.NewSwitch()
		s.On.SetValue(sc.out.GetState())
		s.On.OnValueRemoteUpdate(func(v bool) {
			sc.SetState(v, "hap")
		})
		sc.AddStateNotifier(&hkNotifier{on: s.On, get: sc.currentState})
		svc = s.S
	}

	if toPrimary && bridge != nil {
		bridge.A.AddS(svc)
	} else {
		sc.hkAcc = accessory.New(accessory.Info{
			Name:         sc.cfg.Name,
			SerialNumber: fmt.Sprintf("switch:%02d", sc.id),
		}, category)
		sc.hkAcc.AddS(svc)
		sc.hkAcc.Id = sc.GetUniqueId()
	}
}

// GetHk returns the dedicated accessory, nil when the service was attached to
// the primary one.
func (sc *SwitchController) GetHk() *accessory.A {
	return sc.hkAcc
}
