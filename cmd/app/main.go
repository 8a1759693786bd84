package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/relaykit"
)

const defaultSyncInterval = "100ms"
const defaultMetersSyncInterval = "30s"

var (
	Version string
	Build   string

	config             = flag.String("config", "config.json", "path of the configuration file")
	flagInstall        = flag.Bool("install", false, "Install service in os")
	syncInterval       = flag.String("sync", defaultSyncInterval, "input sync interval (time.Duration)")
	metersSyncInterval = flag.String("meters-sync", defaultMetersSyncInterval, "power meters export interval (time.Duration)")

	kitService = servicemaker.ServiceMaker{
		User:               "relaykit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/relaykit.service",
		ServiceDescription: "relaykit service: HomeKit enabled smart switch controller. github.com/hubertat/relaykit",
		ExecDir:            "/srv/relaykit",
		ExecName:           "relaykit",
	}
)

func main() {
	log.Printf("relaykit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := kitService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncDuration, err := time.ParseDuration(*syncInterval)
	if err != nil {
		panic(err)
	}
	metersSyncDuration, err := time.ParseDuration(*metersSyncInterval)
	if err != nil {
		panic(err)
	}

	kit := &relaykit.Kit{}
	configFile, err := os.Open(*config)
	if err != nil {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}
	cBuff, err := io.ReadAll(configFile)
	configFile.Close()
	if err != nil {
		log.Fatalf("failed reading config file: %v\n", err)
	}
	err = json.Unmarshal(cBuff, kit)
	if err != nil {
		log.Fatalf("failed unmarshalling json config: %v", err)
	}

	kit.SetStore(relaykit.NewFsStore(*config, kit))

	log.Println("will init io driver...")
	err = kit.InitDriver(ctx)
	defer kit.Close()
	if err != nil {
		panic(err)
	}

	log.Println("will build topology...")
	err = kit.BuildTopology()
	if err != nil {
		panic(err)
	}

	log.Println("will init components...")
	err = kit.InitComponents()
	if err != nil {
		panic(err)
	}

	kit.PrintIoStatus(os.Stdout)

	if len(kit.MqttBroker) > 0 {
		err = kit.InitMqtt()
		if err != nil {
			log.Printf("mqtt init returned error: %v\n we will proceed...", err)
		} else {
			log.Println("mqtt connected")
		}
	}

	if kit.InfluxMeters != nil {
		err = kit.InitInfluxMeters()
		if err != nil {
			log.Printf("influx meters init returned error: %v\n we will proceed...", err)
		}
	}

	if len(kit.StatusAddr) > 0 {
		go func() {
			log.Printf("status server listening on %s\n", kit.StatusAddr)
			log.Println(kit.ServeStatus(kit.StatusAddr))
		}()
	}

	if len(kit.HkPin) == 8 {
		log.Println("Starting with HomeKit server")

		go kit.StartTicker(syncDuration, metersSyncDuration)
		log.Fatal(kit.StartHomeKit(ctx, Version))
	} else {
		log.Println("HomeKit not configured, disabled")
		kit.StartTicker(syncDuration, metersSyncDuration)
	}
}
