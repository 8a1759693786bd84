package relaykit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/pkg/errors"

	"github.com/hubertat/relaykit/drivers"
	"github.com/hubertat/relaykit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "relaykit"
const homeKitBridgeAuthor = "github.com/hubertat"

// Kit is the whole device: configuration schema (exported fields,
// unmarshalled straight from the JSON config file) plus the runtime wiring
// built from it.
type Kit struct {
	Name string

	Sw1             *SwitchConfig
	Sw2             *SwitchConfig
	LegacyHapLayout bool

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	StatusAddr string

	Mcp23017   *drivers.McpIO
	Gpio       *drivers.GpIO
	FakeDriver *drivers.MockIoDriver

	InfluxMeters *drivers.InfluxMeters

	ioDriver    drivers.IoDriver
	peripherals Peripherals
	components  []Component
	bridge      *accessory.Bridge
	mqttClient  *mqtt.MqttClient
	store       ConfigStore
	ticker      *time.Ticker
	logger      *log.Logger
}

func (kit *Kit) SetStore(store ConfigStore) {
	kit.store = store
}

func (kit *Kit) ensureLogger() *log.Logger {
	if kit.logger == nil {
		kit.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Kit: ",
			Level:  log.GetLevel(),
		})
	}
	return kit.logger
}

// switchConfigs returns the per-position config records, filling defaults
// for positions the config file left out.
func (kit *Kit) switchConfigs() []*SwitchConfig {
	if kit.Sw1 == nil {
		kit.Sw1 = defaultSwitchConfig(1)
	}
	if kit.Sw2 == nil {
		kit.Sw2 = defaultSwitchConfig(2)
	}

	return []*SwitchConfig{kit.Sw1, kit.Sw2}
}

func defaultSwitchConfig(position int) *SwitchConfig {
	return &SwitchConfig{
		Name:         fmt.Sprintf("switch_%d", position),
		SvcType:      -1,
		InMode:       InModeToggle,
		InitialState: InitialLast,
		Enable:       true,
	}
}

func (kit *Kit) activeDriver() (drivers.IoDriver, error) {
	switch {
	case kit.Gpio != nil:
		return kit.Gpio, nil
	case kit.Mcp23017 != nil:
		return kit.Mcp23017, nil
	case kit.FakeDriver != nil:
		return kit.FakeDriver, nil
	}

	return nil, errors.New("no io driver configured")
}

// InitDriver sets up the configured io driver with the board pin map.
func (kit *Kit) InitDriver(ctx context.Context) error {
	driver, err := kit.activeDriver()
	if err != nil {
		return err
	}

	err = driver.Setup(ctx, []uint16{in1Pin, in2Pin}, []uint16{out1Pin, out2Pin})
	if err != nil {
		return errors.Wrapf(err, "failed to setup %s driver", driver)
	}

	kit.ioDriver = driver
	return nil
}

// meters returns the power meters attached to the board. Only the mock
// driver carries (mock) meters; real measurement hardware is out of scope.
func (kit *Kit) meters() []drivers.PowerMeter {
	if kit.FakeDriver == nil {
		return nil
	}
	return []drivers.PowerMeter{
		&drivers.MockPowerMeter{Available: true},
		&drivers.MockPowerMeter{Available: true},
	}
}

// BuildTopology constructs peripherals and components and prepares the
// bridge accessory. Must run after InitDriver.
func (kit *Kit) BuildTopology() error {
	logger := kit.ensureLogger()

	if kit.ioDriver == nil || !kit.ioDriver.IsReady() {
		return errors.New("io driver not set up")
	}

	hkName := kit.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	kit.bridge = accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
	})
	kit.bridge.A.Id = aidPrimary

	per, err := BuildPeripherals(kit.ioDriver, kit.meters(), func() {
		logger.Warn("input reset sequence detected")
	})
	if err != nil {
		return errors.Wrap(err, "failed to build peripherals")
	}
	kit.peripherals = per

	kit.components, err = BuildComponents(per, kit.switchConfigs(), kit.LegacyHapLayout, kit.store, kit.bridge)
	if err != nil {
		return errors.Wrap(err, "failed to build components")
	}

	return nil
}

// InitComponents applies every component's initial-state policy and
// subscribes them to their inputs.
func (kit *Kit) InitComponents() error {
	for _, comp := range kit.components {
		err := comp.Init()
		if err != nil {
			return errors.Wrapf(err, "failed to init component %d", comp.Id())
		}
	}

	return nil
}

func (kit *Kit) Components() []Component {
	return kit.components
}

func (kit *Kit) FindComponent(id int) Component {
	for _, comp := range kit.components {
		if comp.Id() == id {
			return comp
		}
	}

	return nil
}

func (kit *Kit) GetInfoAll() []ComponentInfo {
	infos := []ComponentInfo{}
	for _, comp := range kit.components {
		infos = append(infos, comp.GetInfo())
	}

	return infos
}

// InitMqtt connects to the broker, registers per-switch command handlers and
// attaches state reporters so every transition is published.
func (kit *Kit) InitMqtt() error {
	logger := kit.ensureLogger()

	if len(kit.MqttBroker) == 0 {
		return errors.New("mqtt broker not set")
	}

	deviceName := kit.Name
	if len(deviceName) < 1 {
		deviceName = homeKitBridgeName
	}

	mc, err := mqtt.NewMqttClient(kit.MqttBroker, deviceName)
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt client")
	}

	kit.mqttClient = mc

	mqttHandlers := []mqtt.MqttHandler{}
	for _, comp := range kit.components {
		sc, isSwitch := comp.(*SwitchController)
		if !isSwitch {
			continue
		}
		sc.AddStateNotifier(newMqttReporter(mc, deviceName, sc, logger))
		mqttHandlers = append(mqttHandlers, newMqttCommand(deviceName, sc, logger))
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		return errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return nil
}

// InitInfluxMeters starts the power readings exporter for components that
// carry a meter.
func (kit *Kit) InitInfluxMeters() error {
	if kit.InfluxMeters == nil {
		return errors.New("influx meters not configured")
	}

	sources := []drivers.MeterSource{}
	cfgs := kit.switchConfigs()
	for i, pm := range kit.peripherals.Meters {
		if pm == nil || i >= len(cfgs) {
			continue
		}
		sources = append(sources, drivers.MeterSource{Name: cfgs[i].Name, Meter: pm})
	}

	return kit.InfluxMeters.Setup(sources)
}

// StartTicker drives the io driver polling loop and, at a slower cadence,
// the influx export.
func (kit *Kit) StartTicker(interval time.Duration, metersInterval time.Duration) {
	logger := kit.ensureLogger()

	kit.ticker = time.NewTicker(interval)
	lastMetersSync := time.Now()

	for range kit.ticker.C {
		err := kit.ioDriver.Sync()
		if err != nil {
			logger.Error("io driver sync failed", "err", err)
		}

		if kit.InfluxMeters != nil && kit.InfluxMeters.IsReady() && time.Since(lastMetersSync) > metersInterval {
			lastMetersSync = time.Now()
			err = kit.InfluxMeters.Sync()
			if err != nil {
				logger.Error("influx meters sync failed", "err", err)
			}
		}
	}
}

func (kit *Kit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, comp := range kit.components {
		hkThing, ok := comp.(interface{ GetHk() *accessory.A })
		if !ok {
			continue
		}
		accessory := hkThing.GetHk()
		if accessory != nil {
			if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
				accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			acc = append(acc, accessory)
		}
	}

	return
}

func (kit *Kit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	var store hap.Store
	if len(kit.HkDirectory) > 1 {
		store = hap.NewFsStore(kit.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}

	hkServer, err := hap.NewServer(store, kit.bridge.A, kit.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = kit.HkPin
	if len(kit.HkAddress) > 0 {
		hkServer.Addr = kit.HkAddress
	}

	if kit.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		// Stop delivering signals.
		signal.Stop(c)
		// Cancel the context to stop the server.
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}

func (kit *Kit) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== active io driver ===")
	if kit.ioDriver != nil {
		inputs, outputs := kit.ioDriver.GetAllIo()
		fmt.Fprintf(writer, "| driver: %s\n", kit.ioDriver)
		fmt.Fprintf(writer, "| in pins: ")
		for _, inpin := range inputs {
			fmt.Fprintf(writer, "%d, ", inpin)
		}
		fmt.Fprintf(writer, "\n| out pins: ")
		for _, outpin := range outputs {
			fmt.Fprintf(writer, "%d, ", outpin)
		}
		fmt.Fprintln(writer)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

// Close tears the device down: components first (cancel timers, unsubscribe
// from inputs), then the io driver and external clients.
func (kit *Kit) Close() (err error) {
	if kit.ticker != nil {
		kit.ticker.Stop()
	}

	for _, comp := range kit.components {
		comp.Close()
	}

	if kit.InfluxMeters != nil && kit.InfluxMeters.IsReady() {
		closeErr := kit.InfluxMeters.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close influx meters")
		}
	}

	if kit.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		closeErr := kit.mqttClient.Disconnect(ctx)
		if closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to disconnect mqtt client")
		}
	}

	if kit.ioDriver != nil {
		closeErr := kit.ioDriver.Close()
		if closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close io driver")
		}
	}

	return
}
