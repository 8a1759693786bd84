package relaykit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const maxNameLength = 64

// InMode tells a switch controller how physical input events map onto its
// output.
type InMode int

const (
	InModeMomentary InMode = iota
	InModeToggle
	InModeEdge
	InModeDetached
)

func (im InMode) String() string {
	switch im {
	case InModeMomentary:
		return "momentary"
	case InModeToggle:
		return "toggle"
	case InModeEdge:
		return "edge"
	case InModeDetached:
		return "detached"
	}
	return fmt.Sprintf("in_mode(%d)", int(im))
}

// InitialState selects the output state policy applied when a switch
// controller initializes.
type InitialState int

const (
	InitialOff InitialState = iota
	InitialOn
	InitialLast
	InitialInput
)

func (is InitialState) String() string {
	switch is {
	case InitialOff:
		return "off"
	case InitialOn:
		return "on"
	case InitialLast:
		return "last"
	case InitialInput:
		return "input"
	}
	return fmt.Sprintf("initial_state(%d)", int(is))
}

// SwitchConfig is the persisted per-switch configuration record. State
// mirrors the last commanded output state and is written back whenever it
// changes.
type SwitchConfig struct {
	Name         string       `json:"name"`
	SvcType      int          `json:"svc_type"`
	InMode       InMode       `json:"in_mode"`
	InitialState InitialState `json:"initial_state"`
	Enable       bool         `json:"enable"`
	State        bool         `json:"state"`
	AutoOff      bool         `json:"auto_off"`
	AutoOffDelay float64      `json:"auto_off_delay"`
}

// InvalidArgumentError reports which config field failed validation.
type InvalidArgumentError struct {
	Field string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s", e.Field)
}

// ConfigStore persists the device configuration. Saves triggered by switch
// state changes are best-effort, a failed write is logged and swallowed.
type ConfigStore interface {
	Save() error
}

// FsStore writes the configuration back to the JSON file it was loaded from.
type FsStore struct {
	path string
	data interface{}

	lock sync.Mutex
}

func NewFsStore(path string, data interface{}) *FsStore {
	return &FsStore{path: path, data: data}
}

func (fs *FsStore) Save() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	buff, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := fs.path + ".tmp"
	err = os.WriteFile(tmp, buff, 0644)
	if err != nil {
		return err
	}

	return os.Rename(tmp, fs.path)
}

func (fs *FsStore) Path() string {
	return filepath.Clean(fs.path)
}
