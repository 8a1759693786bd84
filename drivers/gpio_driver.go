package drivers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"

type GpIO struct {
	inputs  []*GpInput
	outputs []*GpOutput

	InvertInputs  bool
	InvertOutputs bool

	isReady bool
}

type GpInput struct {
	pin    uint8
	invert bool

	lastState bool

	handlerSet
}

type GpOutput struct {
	pin    uint8
	invert bool
}

func (gpi *GpInput) GetState() bool {
	if gpi.invert {
		return rpio.Pin(gpi.pin).Read() == rpio.Low
	}
	return rpio.Pin(gpi.pin).Read() == rpio.High
}

func (gpo *GpOutput) SetState(state bool, source string) {
	log.Debug("gpio output set", "pin", gpo.pin, "state", state, "source", source)
	if gpo.invert {
		state = !state
	}
	if state {
		rpio.Pin(gpo.pin).High()
	} else {
		rpio.Pin(gpo.pin).Low()
	}
}

func (gpo *GpOutput) GetState() bool {
	if gpo.invert {
		return rpio.Pin(gpo.pin).Read() == rpio.Low
	}
	return rpio.Pin(gpo.pin).Read() == rpio.High
}

func (gp *GpIO) Setup(ctx context.Context, inputs []uint16, outputs []uint16) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to Setup gpio driver for pins: %v, %v; ", inputs, outputs)
	}
	// Output pins first: configuring an input while its relay pin still
	// floats actuates the relay.
	for _, outPin := range outputs {
		if outPin > 255 {
			return errors.Errorf("outpin out of range (gpio takes uint8 pin)")
		}
		pin := rpio.Pin(outPin)
		pin.Output()
		gp.outputs = append(gp.outputs, &GpOutput{pin: uint8(outPin), invert: gp.InvertOutputs})
	}

	for _, inPin := range inputs {
		if inPin > 255 {
			return errors.Errorf("inpin out of range (gpio takes uint8 pin)")
		}
		pin := rpio.Pin(inPin)
		pin.Input()
		pin.PullUp()
		in := &GpInput{pin: uint8(inPin), invert: gp.InvertInputs}
		in.lastState = in.GetState()
		gp.inputs = append(gp.inputs, in)
	}

	gp.isReady = true
	return nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

// Sync polls all input pins, edge detection is done by comparing against the
// previously sampled level.
func (gp *GpIO) Sync() error {
	for _, in := range gp.inputs {
		state := in.GetState()
		if state != in.lastState {
			in.lastState = state
			in.fire(EventChange, state)
		}
	}
	return nil
}

func (gp *GpIO) Close() error {
	gp.isReady = false
	for _, output := range gp.outputs {
		output.SetState(false, "close")
	}
	return rpio.Close()
}

func (gp *GpIO) GetInput(id uint16) (input DigitalInput, err error) {
	for _, in := range gp.inputs {
		if in.pin == uint8(id) {
			input = in
			return
		}
	}

	err = fmt.Errorf("GpIO Input (id: %d) not found", id)
	return
}

func (gp *GpIO) GetOutput(id uint16) (output DigitalOutput, err error) {
	for _, out := range gp.outputs {
		if out.pin == uint8(id) {
			output = out
			return
		}
	}

	err = fmt.Errorf("GpIO Output (id: %d) not found", id)
	return
}

func (gp *GpIO) GetAllIo() (inputs []uint16, outputs []uint16) {
	for _, input := range gp.inputs {
		inputs = append(inputs, uint16(input.pin))
	}

	for _, output := range gp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
