package main

import (
	"encoding/json"
	"errors"
	"flag"
	"os"
	"syscall"
	"time"

	opm500 "github.com/artifex-engineering/go-opm500/lib"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/sevlyar/go-daemon"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	stop = make(chan struct{})
	done = make(chan struct{})
)

// Config of the publisher. Flags override the file.
type Config struct {
	Broker     string  `yaml:"broker"`
	Topic      string  `yaml:"topic"`
	User       string  `yaml:"user"`
	Password   string  `yaml:"password"`
	Interval   int     `yaml:"interval"`
	Unit       string  `yaml:"unit"`
	Wavelength int     `yaml:"wavelength"`
	ApertureMM float64 `yaml:"aperture_mm"`
}

func defaultConfig() Config {
	return Config{
		Broker:   "tcp://localhost:1883",
		Topic:    "opm500/power",
		Interval: 30,
		Unit:     "µW",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	var logf = flag.String("log", "opm500mqtt.log", "log")
	var pid = flag.String("pid", "opm500mqtt.pid", "pid")
	var notdaemonize = flag.Bool("n", false, "Do not do to background.")
	var signal = flag.String("s", "", `send signal to the daemon stop — shutdown`)
	var cfgfile = flag.String("c", "", "YAML config file")
	var mqtt = flag.String("mqtt", "", "MQTT endpoint")
	var topic = flag.String("t", "", "MQTT topic")
	var user = flag.String("mqtt-user", "", "MQTT user")
	var pass = flag.String("mqtt-pass", "", "MQTT password")
	var unit = flag.String("unit", "", "Measurement unit label, e.g. µW or dBm")
	var wavelength = flag.Int("wavelength", 0, "Wavelength in nm")
	var aperture = flag.Float64("aperture", 0, "Aperture diameter in mm")
	var interval = flag.Int("interval", 0, "Interval seconds")
	flag.Parse()
	daemon.AddCommand(daemon.StringFlag(signal, "stop"), syscall.SIGTERM, termHandler)

	cfg, err := loadConfig(*cfgfile)
	if err != nil {
		logrus.WithError(err).Fatal("Unable to load config")
	}
	if *mqtt != "" {
		cfg.Broker = *mqtt
	}
	if *topic != "" {
		cfg.Topic = *topic
	}
	if *user != "" {
		cfg.User = *user
	}
	if *pass != "" {
		cfg.Password = *pass
	}
	if *unit != "" {
		cfg.Unit = *unit
	}
	if *wavelength != 0 {
		cfg.Wavelength = *wavelength
	}
	if *aperture != 0 {
		cfg.ApertureMM = *aperture
	}
	if *interval != 0 {
		cfg.Interval = *interval
	}

	cntxt := &daemon.Context{
		PidFileName: *pid,
		PidFilePerm: 0644,
		LogFileName: *logf,
		LogFilePerm: 0640,
		WorkDir:     "/tmp",
		Umask:       027,
		Args:        os.Args,
	}

	if !*notdaemonize && len(daemon.ActiveFlags()) > 0 {
		d, err := cntxt.Search()
		if err != nil {
			logrus.WithError(err).Fatal("Unable send signal to the daemon")
		}
		daemon.SendCommands(d)
		return
	}

	if !*notdaemonize {
		d, err := cntxt.Reborn()
		if err != nil {
			logrus.Fatal(err)
		}
		if d != nil {
			return
		}
	}

	daemonf(cfg)
}

// Reading is the published payload.
type Reading struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

func daemonf(cfg Config) {
	opts := MQTT.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID("opm500-go-cli")
	if cfg.User != "" {
		opts.Username = cfg.User
		opts.Password = cfg.Password
	}

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	device, err := connectDevice(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	defer device.Disconnect()

	erinr := 0
	for {
		select {
		case <-stop:
			logrus.Info("Exiting")
			done <- struct{}{}
			return
		case <-time.After(time.Duration(cfg.Interval) * time.Second):
			v, label, err := device.GetMeasurement()
			if err != nil {
				logrus.WithError(err).Warn("Measurement failed")
				erinr++
				if erinr == 10 {
					return
				}
				continue
			}
			erinr = 0
			bp, err := json.Marshal(&Reading{Value: v, Unit: label})
			if err != nil {
				logrus.Error(err)
				continue
			}
			tkn := client.Publish(cfg.Topic, 0, false, bp)
			if tkn.Error() != nil {
				logrus.Error(tkn.Error())
			}
		}
	}
}

func connectDevice(cfg Config) (*opm500.Device, error) {
	devices, err := opm500.FindDevices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.New("no OPM500 device found")
	}
	logrus.WithField("device", devices[0]).Info("Connecting")

	device := opm500.New()
	if err := device.Connect(devices[0]); err != nil {
		return nil, err
	}

	u, ok := opm500.ParseUnit(cfg.Unit)
	if !ok {
		device.Disconnect()
		return nil, &opm500.ConfigurationError{Reason: "unknown unit " + cfg.Unit}
	}
	if err := device.SetUnit(u); err != nil {
		device.Disconnect()
		return nil, err
	}
	if cfg.Wavelength != 0 {
		if err := device.SetWavelength(cfg.Wavelength); err != nil {
			device.Disconnect()
			return nil, err
		}
	}
	if cfg.ApertureMM != 0 {
		if err := device.SetAperture(cfg.ApertureMM); err != nil {
			device.Disconnect()
			return nil, err
		}
	}
	return device, nil
}

func termHandler(sig os.Signal) error {
	logrus.Info("Terminating...")
	stop <- struct{}{}
	if sig == syscall.SIGQUIT {
		<-done
	}
	return daemon.ErrStop
}
