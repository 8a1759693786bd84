package drivers

import (
	"context"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned by PowerMeter readings that cannot be served
// right now (sampling not finished, meter offline). Callers are expected to
// skip the reading, not fail.
var ErrUnavailable = errors.New("reading unavailable")

type IoDriver interface {
	Setup(ctx context.Context, inputs []uint16, outputs []uint16) error
	Close() error
	String() string
	IsReady() bool
	GetInput(pin uint16) (DigitalInput, error)
	GetOutput(pin uint16) (DigitalOutput, error)
	GetAllIo() (inputs []uint16, outputs []uint16)

	// Sync samples all input pins once and dispatches change events to the
	// handlers registered on them. Called periodically by the kit ticker.
	Sync() error
}

// InputEvent describes what happened on a digital input. Only EventChange
// carries meaning for switch controllers; press kinds are dispatched by
// drivers that can detect them.
type InputEvent int

const (
	EventChange InputEvent = iota
	EventSinglePress
	EventDoublePress
	EventLongPress
)

// InputHandler receives input events together with the new pin level.
type InputHandler func(ev InputEvent, state bool)

// HandlerID identifies a registered handler so it can be removed before the
// subscriber goes away.
type HandlerID int

type DigitalInput interface {
	GetState() bool
	AddHandler(InputHandler) HandlerID
	RemoveHandler(HandlerID)
}

type DigitalOutput interface {
	GetState() bool
	SetState(state bool, source string)
}

type PowerMeter interface {
	GetPowerW() (float64, error)
	GetEnergyWH() (float64, error)
}

// handlerSet is the handler registry embedded by driver inputs.
type handlerSet struct {
	next     HandlerID
	handlers map[HandlerID]InputHandler
}

func (hs *handlerSet) AddHandler(handler InputHandler) HandlerID {
	if hs.handlers == nil {
		hs.handlers = make(map[HandlerID]InputHandler)
	}
	hs.next++
	hs.handlers[hs.next] = handler
	return hs.next
}

func (hs *handlerSet) RemoveHandler(id HandlerID) {
	delete(hs.handlers, id)
}

func (hs *handlerSet) fire(ev InputEvent, state bool) {
	for _, handler := range hs.handlers {
		handler(ev, state)
	}
}
