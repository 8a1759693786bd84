package relaykit

import (
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/pkg/errors"

	"github.com/hubertat/relaykit/drivers"
)

// Physical wiring of the two-channel board.
const (
	positionCount = 2

	out1Pin uint16 = 4
	out2Pin uint16 = 15
	in1Pin  uint16 = 13
	in2Pin  uint16 = 5
)

const resetSequenceLength = 10
const resetSequenceWindow = 5 * time.Second

// Peripherals is the ordered physical set the components are wired from.
type Peripherals struct {
	Inputs  []drivers.DigitalInput
	Outputs []drivers.DigitalOutput
	Meters  []drivers.PowerMeter
}

// PeripheralsBuilder constructs peripherals in two explicit phases per
// position: the output must exist before the input. Setting up an input pin
// while its relay pin is still floating actuates the relay.
type PeripheralsBuilder struct {
	driver   drivers.IoDriver
	per      Peripherals
	outReady map[int]bool
}

func NewPeripheralsBuilder(driver drivers.IoDriver) *PeripheralsBuilder {
	return &PeripheralsBuilder{
		driver:   driver,
		outReady: make(map[int]bool),
	}
}

func (pb *PeripheralsBuilder) AddOutput(position int, pin uint16) error {
	out, err := pb.driver.GetOutput(pin)
	if err != nil {
		return errors.Wrapf(err, "failed to build output for position %d", position)
	}

	pb.per.Outputs = append(pb.per.Outputs, out)
	pb.outReady[position] = true
	return nil
}

func (pb *PeripheralsBuilder) AddInput(position int, pin uint16) error {
	if !pb.outReady[position] {
		return errors.Errorf("output for position %d must be built before its input", position)
	}

	in, err := pb.driver.GetInput(pin)
	if err != nil {
		return errors.Wrapf(err, "failed to build input for position %d", position)
	}

	pb.per.Inputs = append(pb.per.Inputs, in)
	return nil
}

func (pb *PeripheralsBuilder) AddMeter(pm drivers.PowerMeter) {
	pb.per.Meters = append(pb.per.Meters, pm)
}

func (pb *PeripheralsBuilder) Peripherals() Peripherals {
	return pb.per
}

// BuildPeripherals wires the board: both outputs first, then both inputs,
// then power meters. Each input also gets a reset-sequence watcher calling
// resetTrigger after a burst of rapid toggles.
func BuildPeripherals(driver drivers.IoDriver, meters []drivers.PowerMeter, resetTrigger func()) (Peripherals, error) {
	pb := NewPeripheralsBuilder(driver)

	err := pb.AddOutput(1, out1Pin)
	if err != nil {
		return Peripherals{}, err
	}
	err = pb.AddOutput(2, out2Pin)
	if err != nil {
		return Peripherals{}, err
	}
	err = pb.AddInput(1, in1Pin)
	if err != nil {
		return Peripherals{}, err
	}
	err = pb.AddInput(2, in2Pin)
	if err != nil {
		return Peripherals{}, err
	}

	for _, pm := range meters {
		pb.AddMeter(pm)
	}

	per := pb.Peripherals()

	if resetTrigger != nil {
		for _, in := range per.Inputs {
			rw := &resetWatcher{trigger: resetTrigger}
			in.AddHandler(rw.handle)
		}
	}

	return per, nil
}

// resetWatcher fires its trigger after resetSequenceLength input changes
// within resetSequenceWindow, used to factory-reset a device whose input is
// repurposed.
type resetWatcher struct {
	count   int
	firstAt time.Time
	trigger func()
}

func (rw *resetWatcher) handle(ev drivers.InputEvent, state bool) {
	if ev != drivers.EventChange {
		return
	}

	now := time.Now()
	if rw.count == 0 || now.Sub(rw.firstAt) > resetSequenceWindow {
		rw.count = 0
		rw.firstAt = now
	}
	rw.count++
	if rw.count >= resetSequenceLength {
		rw.count = 0
		rw.trigger()
	}
}

// BuildComponents assembles the switch controllers. Legacy layout is used
// only when the persisted flag is set and no input is detached; it builds the
// switches in reverse order attached to the primary accessory, then reverses
// the list so external ordering matches the pre-componentized layout.
func BuildComponents(per Peripherals, cfgs []*SwitchConfig, legacyLayout bool, store ConfigStore, bridge *accessory.Bridge) ([]Component, error) {
	if len(cfgs) > len(per.Outputs) {
		return nil, errors.Errorf("not enough outputs (%d) for %d switches", len(per.Outputs), len(cfgs))
	}

	legacy := legacyLayout
	for _, cfg := range cfgs {
		if cfg.InMode == InModeDetached {
			legacy = false
		}
	}

	newSwitch := func(pos int, toPrimary bool) Component {
		var in drivers.DigitalInput
		var pm drivers.PowerMeter
		if pos < len(per.Inputs) {
			in = per.Inputs[pos]
		}
		if pos < len(per.Meters) {
			pm = per.Meters[pos]
		}
		sc := NewSwitchController(pos+1, in, per.Outputs[pos], pm, cfgs[pos], store)
		if cfgs[pos].Enable {
			sc.SetupHk(toPrimary, bridge)
		}
		return sc
	}

	comps := []Component{}
	if !legacy {
		for pos := range cfgs {
			comps = append(comps, newSwitch(pos, false))
		}
	} else {
		for pos := len(cfgs) - 1; pos >= 0; pos-- {
			comps = append(comps, newSwitch(pos, true))
		}
		for i, j := 0, len(comps)-1; i < j; i, j = i+1, j-1 {
			comps[i], comps[j] = comps[j], comps[i]
		}
	}

	return comps, nil
}
