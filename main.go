package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"i2csense/bus"
	"i2csense/sensor"
)

type ProgramArgs struct {
	// Sensor Options
	Sensor  string   `short:"s" long:"sensor" description:"Sensor type: bme280, htu21d or bh1750 (default: scan the bus)"`
	Address string   `short:"a" long:"address" description:"I2C address of the sensor (default: the sensor's usual one)"`
	Params  []string `short:"p" long:"param" description:"Sensor option as name=value, may be repeated"`
	Delay   float64  `short:"d" long:"delay" default:"5" description:"Seconds between readings"`
	Count   uint     `short:"n" long:"count" default:"0" description:"Stop after this many readings (0: forever)"`

	// Bus Options
	I2CDevice string `short:"D" long:"i2cdev" description:"The used I2C device (default: auto)"`
	Backend   string `short:"B" long:"backend" default:"periph" choice:"periph" choice:"smbus" choice:"sysfs" description:"I2C backend"`

	// Server Options
	Host string `short:"H" long:"host" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" default:"27315" description:"Port to listen on (0: no server)"`

	Verbose bool `short:"v" long:"verbose" description:"Log bus and driver details"`
}

const (
	MIN_TIMEOUT_SECONDS = 2
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	args := ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)

	if _, err := argParser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(args); err != nil {
		log.Fatal(err)
	}
}

func run(args ProgramArgs) error {
	if args.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if args.Delay <= 0 {
		return fmt.Errorf("delay must be positive, got %v", args.Delay)
	}

	b, err := bus.Open(args.Backend, args.I2CDevice)
	if err != nil {
		return err
	}
	defer b.Close()

	if args.Sensor == "" {
		scan(b, os.Stdout)
		return nil
	}

	dev, addr, err := openSensor(b, args.Sensor, args.Address, args.Params)
	if err != nil {
		return fmt.Errorf("couldn't initialize %s: %w", args.Sensor, err)
	}
	if h, ok := dev.(interface{ Halt() error }); ok {
		defer func() {
			if err := h.Halt(); err != nil {
				log.Warnf("halt %s: %v", dev, err)
			}
		}()
	}
	log.Infof("Using %s on %s", dev, b)

	name := strings.ToLower(args.Sensor)
	m := newMetrics(prometheus.DefaultRegisterer)

	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C) or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(args.Delay * float64(time.Second))
	if args.Port != 0 {
		srv := newServer(args, newRouter(name, addr, dev, prometheus.DefaultGatherer), interval)
		go func() {
			err := srv.ListenAndServe()
			log.Infof("Shutdown (%v)", err)
		}()
		defer func() {
			// Give the server a timeout period of 4 seconds
			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
			defer cancel()
			// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
			_ = srv.Shutdown(ctx)
		}()
	}

	poll(ctx, dev, args.Count, interval, func(st sensor.State) {
		m.observe(name, addr, st)
	})
	return nil
}

func newServer(args ProgramArgs, h http.Handler, interval time.Duration) *http.Server {
	timeoutLen := time.Duration(MIN_TIMEOUT_SECONDS) * time.Second
	if interval > timeoutLen {
		timeoutLen = interval
	}

	addr := fmt.Sprintf("%s:%d", args.Host, args.Port)
	if args.Host == "0.0.0.0" {
		// resolve local IP for easier debugging
		if localIP, err := getOutboundIP(); err == nil {
			log.Infof("Listening on %s:%d…", localIP, args.Port)
		} else {
			log.Infof("Listening on %s…", addr)
		}
	} else {
		log.Infof("Listening on %s…", addr)
	}

	return &http.Server{
		Addr:         addr,
		ReadTimeout:  timeoutLen,
		WriteTimeout: timeoutLen,
		IdleTimeout:  120 * time.Second,
		Handler:      h,
	}
}

// poll updates dev every interval until ctx is done or count cycles ran
// (count 0 means forever). The first update happens right away.
func poll(ctx context.Context, dev sensor.Sensor, count uint, interval time.Duration, observe func(sensor.State)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := uint(1); ; n++ {
		dev.Update()
		st := dev.State()
		observe(st)
		if st.OK {
			log.Info(dev.Summary())
		} else {
			log.Warnf("%s: %s (%v)", dev, dev.Summary(), st.Err)
		}
		if dev.Phase() == sensor.Unusable {
			log.Errorf("%s is unusable, stopping", dev)
			return
		}

		if count != 0 && n >= count {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scan lists the responding addresses and what could be there.
func scan(t sensor.Transport, w io.Writer) {
	found := sensor.Scan(t)
	if len(found) == 0 {
		fmt.Fprintln(w, "No devices found")
		return
	}
	for _, addr := range found {
		if c := candidates(addr); len(c) != 0 {
			fmt.Fprintf(w, "0x%02x: %s\n", addr, strings.Join(c, " or "))
		} else {
			fmt.Fprintf(w, "0x%02x: unknown device\n", addr)
		}
	}
}
