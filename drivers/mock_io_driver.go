package drivers

import (
	"context"
	"fmt"
	"io"
)

const mockDriverName = "mock_driver"

type MockOutput struct {
	state            bool
	pin              uint16
	writeTo          io.Writer
	writeStateChange bool

	LastSource string
	SetCount   int
}

func (mo *MockOutput) GetState() bool {
	return mo.state
}

func (mo *MockOutput) SetState(state bool, source string) {
	if mo.writeStateChange && state != mo.state {
		fmt.Fprintf(mo.writeTo, "[pin %d] state changed to %v (source %s)\n", mo.pin, state, source)
	}
	mo.state = state
	mo.LastSource = source
	mo.SetCount++
}

type MockInput struct {
	State bool
	pin   uint16

	handlerSet
}

func (mi *MockInput) GetState() bool {
	return mi.State
}

// Set changes the simulated pin level, firing a change event when the level
// actually flips.
func (mi *MockInput) Set(state bool) {
	if state == mi.State {
		return
	}
	mi.State = state
	mi.fire(EventChange, state)
}

type MockPowerMeter struct {
	PowerW    float64
	EnergyWH  float64
	Available bool
}

func (mpm *MockPowerMeter) GetPowerW() (float64, error) {
	if !mpm.Available {
		return 0, ErrUnavailable
	}
	return mpm.PowerW, nil
}

func (mpm *MockPowerMeter) GetEnergyWH() (float64, error) {
	if !mpm.Available {
		return 0, ErrUnavailable
	}
	return mpm.EnergyWH, nil
}

type MockIoDriver struct {
	inputs  []*MockInput
	outputs []*MockOutput
	ready   bool
}

func (md *MockIoDriver) Setup(ctx context.Context, inputs []uint16, outputs []uint16) error {
	for _, inPin := range inputs {
		md.inputs = append(md.inputs, &MockInput{pin: inPin})
	}
	for _, outPin := range outputs {
		md.outputs = append(md.outputs, &MockOutput{pin: outPin})
	}
	md.ready = true
	return nil
}

func (md *MockIoDriver) Close() error {
	md.ready = false
	return nil
}

func (md *MockIoDriver) String() string {
	return mockDriverName
}

func (md *MockIoDriver) IsReady() bool {
	return md.ready
}

// Sync is a no-op: mock inputs fire their change events directly from Set.
func (md *MockIoDriver) Sync() error {
	return nil
}

func (md *MockIoDriver) GetInput(pin uint16) (DigitalInput, error) {
	for _, input := range md.inputs {
		if pin == input.pin {
			return input, nil
		}
	}
	return nil, fmt.Errorf("mock input %d not found", pin)
}

func (md *MockIoDriver) GetOutput(pin uint16) (DigitalOutput, error) {
	for _, output := range md.outputs {
		if pin == output.pin {
			return output, nil
		}
	}
	return nil, fmt.Errorf("mock output %d not found", pin)
}

func (md *MockIoDriver) GetAllIo() (inputs []uint16, outputs []uint16) {
	for _, input := range md.inputs {
		inputs = append(inputs, input.pin)
	}
	for _, output := range md.outputs {
		outputs = append(outputs, output.pin)
	}
	return
}

func (md *MockIoDriver) MonitorStateChanges(writer io.Writer) {
	for _, out := range md.outputs {
		out.writeTo = writer
		out.writeStateChange = true
	}
}
