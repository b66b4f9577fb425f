package main

import (
	"flag"
	"os"
	"syscall"
	"time"

	opm500 "github.com/artifex-engineering/go-opm500/lib"
	"github.com/influxdata/influxdb/client/v2"
	"github.com/sevlyar/go-daemon"
	"github.com/sirupsen/logrus"
)

var (
	stop = make(chan struct{})
	done = make(chan struct{})
)

func main() {
	var logf = flag.String("log", "opm500exporter.log", "log")
	var pid = flag.String("pid", "opm500exporter.pid", "pid")
	var notdaemonize = flag.Bool("n", false, "Do not do to background.")
	var signal = flag.String("s", "", `send signal to the daemon stop — shutdown`)
	var iserver = flag.String("influx", "http://localhost:8086", "http://localhost:8086")
	var database = flag.String("db", "photometry", "InfluxDB database")
	var unit = flag.String("unit", "µW", "Measurement unit label, e.g. µW or dBm")
	var interval = flag.Int("interval", 1, "Interval seconds")
	flag.Parse()

	daemon.AddCommand(daemon.StringFlag(signal, "stop"), syscall.SIGTERM, termHandler)

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
	daemonf(*iserver, *database, *unit, *interval)
}

func daemonf(server, database, unitLabel string, interval int) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr: server,
	})
	if err != nil {
		logrus.Fatal(err)
	}
	defer c.Close()

	devices, err := opm500.FindDevices()
	if err != nil {
		logrus.Fatal(err)
	}
	if len(devices) == 0 {
		logrus.Fatal("No OPM500 device found")
	}
	device := opm500.New()
	if err := device.Connect(devices[0]); err != nil {
		logrus.Fatal(err)
	}
	defer device.Disconnect()

	u, ok := opm500.ParseUnit(unitLabel)
	if !ok {
		logrus.Fatalf("Unknown unit %q", unitLabel)
	}
	if err := device.SetUnit(u); err != nil {
		logrus.Fatal(err)
	}

	serial, err := device.SerialNumber()
	if err != nil {
		logrus.Fatal(err)
	}

	failcnt := 0
	for {
		select {
		case <-stop:
			done <- struct{}{}
			return
		case <-time.After(time.Duration(interval) * time.Second):
		}

		if failcnt >= 10 {
			break
		}

		v, label, err := device.GetMeasurement()
		if err != nil {
			logrus.WithError(err).Warn("Measurement failed")
			failcnt++
			continue
		}
		if err := logData(c, database, serial, v, label); err != nil {
			logrus.WithError(err).Warn("Write failed")
			failcnt++
			continue
		}
		logrus.WithFields(logrus.Fields{"value": v, "unit": label}).Debug("Written")
		failcnt = 0
	}
	done <- struct{}{}
}

func logData(c client.Client, database, serial string, v float64, unit string) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  database,
		Precision: "ms",
	})
	if err != nil {
		return err
	}

	tags := map[string]string{"serial": serial, "unit": unit}
	fields := map[string]interface{}{
		"value": v,
	}
	pt, err := client.NewPoint("optical_power", tags, fields, time.Now())
	if err != nil {
		return err
	}
	bp.AddPoint(pt)

	return c.Write(bp)
}

func termHandler(sig os.Signal) error {
	logrus.Info("terminating...")
	stop <- struct{}{}
	if sig == syscall.SIGQUIT {
		<-done
	}
	return daemon.ErrStop
}
