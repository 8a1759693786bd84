package drivers

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const influxMetersDriverName string = "influx_meters"

// MeterSource couples a power meter with the name it is exported under.
type MeterSource struct {
	Name  string
	Meter PowerMeter
}

// InfluxMeters periodically exports instantaneous power and cumulative energy
// readings of the attached power meters to an InfluxDB bucket. Unavailable
// readings are skipped.
type InfluxMeters struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	sources  []MeterSource
	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
	ready    bool
}

func (im *InfluxMeters) Setup(sources []MeterSource) error {
	if len(im.Host) == 0 || len(im.Token) == 0 {
		return errors.New("failed to init InfluxMeters driver: host and/or token not set")
	}

	im.sources = sources
	im.client = influxdb2.NewClient(im.Host, im.Token)
	im.writeApi = im.client.WriteAPIBlocking(im.Organization, im.Bucket)

	if len(im.Measurement) == 0 {
		im.Measurement = "power"
	}

	im.ready = true
	return nil
}

func (im *InfluxMeters) Close() error {
	if im.client != nil {
		im.client.Close()
	}
	im.ready = false
	return nil
}

func (im *InfluxMeters) IsReady() bool {
	return im.ready
}

func (im *InfluxMeters) Name() string {
	return influxMetersDriverName
}

func (im *InfluxMeters) Sync() error {
	now := time.Now()
	for _, src := range im.sources {
		fields := map[string]interface{}{}

		power, err := src.Meter.GetPowerW()
		if err == nil {
			fields["apower"] = power
		}
		energy, err := src.Meter.GetEnergyWH()
		if err == nil {
			fields["aenergy"] = energy
		}

		if len(fields) == 0 {
			continue
		}

		point := influxdb2.NewPoint(im.Measurement, map[string]string{"name": src.Name}, fields, now)
		err = im.writeApi.WritePoint(context.Background(), point)
		if err != nil {
			return errors.Wrapf(err, "failed to write point for %s in InfluxMeters;", src.Name)
		}
	}

	return nil
}
