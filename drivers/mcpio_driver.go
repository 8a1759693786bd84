package drivers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"

type McpIO struct {
	device *mcp23017.Device

	inputs  []*McpInput
	outputs []*McpOutput
	isReady bool

	BusNo         uint8
	DevNo         uint8
	InvertInputs  bool
	InvertOutputs bool
}

type McpInput struct {
	pin    uint8
	invert bool

	lastState bool
	device    *mcp23017.Device

	handlerSet
}

type McpOutput struct {
	pin    uint8
	invert bool

	device *mcp23017.Device
}

func (min *McpInput) GetState() bool {
	rawState, err := min.device.DigitalRead(min.pin)
	if err != nil {
		log.Error("mcpio input read failed", "pin", min.pin, "err", err)
		return min.lastState
	}

	if min.invert {
		return !bool(rawState)
	}
	return bool(rawState)
}

func (mout *McpOutput) GetState() bool {
	rawState, err := mout.device.DigitalRead(mout.pin)
	if err != nil {
		log.Error("mcpio output read failed", "pin", mout.pin, "err", err)
		return false
	}

	if mout.invert {
		return !bool(rawState)
	}
	return bool(rawState)
}

func (mout *McpOutput) SetState(state bool, source string) {
	log.Debug("mcpio output set", "pin", mout.pin, "state", state, "source", source)
	if mout.invert {
		state = !state
	}

	err := mout.device.DigitalWrite(mout.pin, mcp23017.PinLevel(state))
	if err != nil {
		log.Error("mcpio output write failed", "pin", mout.pin, "err", err)
	}
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpIO) Setup(ctx context.Context, inputs []uint16, outputs []uint16) (err error) {
	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		return
	}

	// Output pins first, same hardware constraint as the gpio driver.
	for _, outputPin := range outputs {
		if outputPin > 255 {
			err = fmt.Errorf("output pin out of range (mcpio takes uint8 pin id)")
			return
		}
		err = mcp.device.PinMode(uint8(outputPin), mcp23017.OUTPUT)
		if err != nil {
			return
		}
		mcp.outputs = append(mcp.outputs, &McpOutput{pin: uint8(outputPin), invert: mcp.InvertOutputs, device: mcp.device})
	}

	for _, inputPin := range inputs {
		if inputPin > 255 {
			err = fmt.Errorf("input pin out of range (mcpio takes uint8 pin id)")
			return
		}
		err = mcp.device.PinMode(uint8(inputPin), mcp23017.INPUT)
		if err != nil {
			return
		}
		err = mcp.device.SetPullUp(uint8(inputPin), true)
		if err != nil {
			return
		}
		in := &McpInput{pin: uint8(inputPin), invert: mcp.InvertInputs, device: mcp.device}
		in.lastState = in.GetState()
		mcp.inputs = append(mcp.inputs, in)
	}

	mcp.isReady = err == nil

	return
}

func (mcp *McpIO) Sync() error {
	for _, in := range mcp.inputs {
		state := in.GetState()
		if state != in.lastState {
			in.lastState = state
			in.fire(EventChange, state)
		}
	}
	return nil
}

func (mcp *McpIO) GetInput(id uint16) (input DigitalInput, err error) {
	for _, in := range mcp.inputs {
		if in.pin == uint8(id) {
			input = in
			return
		}
	}

	err = fmt.Errorf("input (id: %d) not found", id)
	return
}

func (mcp *McpIO) GetOutput(id uint16) (output DigitalOutput, err error) {
	for _, out := range mcp.outputs {
		if out.pin == uint8(id) {
			output = out
			return
		}
	}

	err = fmt.Errorf("output (id: %d) not found", id)
	return
}

func (mcp *McpIO) Close() error {
	mcp.isReady = false
	for _, output := range mcp.outputs {
		output.SetState(false, "close")
	}
	return mcp.device.Close()
}

func (mcp *McpIO) GetAllIo() (inputs []uint16, outputs []uint16) {
	for _, input := range mcp.inputs {
		inputs = append(inputs, uint16(input.pin))
	}

	for _, output := range mcp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
