package relaykit

import "encoding/json"

// ComponentType tags externally-addressable units of device functionality.
type ComponentType int

const (
	TypeSwitch ComponentType = iota
	TypeOutlet
	TypeLock
)

func (ct ComponentType) String() string {
	switch ct {
	case TypeSwitch:
		return "switch"
	case TypeOutlet:
		return "outlet"
	case TypeLock:
		return "lock"
	}
	return "unknown"
}

// Component is an externally-addressable logical unit of the device, ready
// for registration with the accessory exposure layer.
type Component interface {
	Id() int
	Type() ComponentType

	Init() error
	Close()

	GetInfo() ComponentInfo
	SetConfig(raw json.RawMessage) (restartRequired bool, err error)
}

// ComponentInfo is the status snapshot served over the local RPC surface.
// Power readings are present only when a meter is attached and a reading is
// currently available.
type ComponentInfo struct {
	Id           int           `json:"id"`
	Type         ComponentType `json:"type"`
	Name         string        `json:"name"`
	SvcType      int           `json:"svc_type"`
	InMode       InMode        `json:"in_mode"`
	InitialState InitialState  `json:"initial_state"`
	State        bool          `json:"state"`
	AutoOff      bool          `json:"auto_off"`
	AutoOffDelay float64       `json:"auto_off_delay"`

	APower  *float64 `json:"apower,omitempty"`
	AEnergy *float64 `json:"aenergy,omitempty"`
}

// StateNotifier is raised once per actual output transition, typically
// backed by an exposure-layer characteristic.
type StateNotifier interface {
	RaiseEvent()
}
