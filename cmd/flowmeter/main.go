package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/flowmetrics/flowmeter/app"
	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/reporter"
	"github.com/flowmetrics/flowmeter/route"
	"github.com/flowmetrics/flowmeter/stats"
)

// set by the release build.
var BuildID string
var version string

type graphLogger struct {
}

// TODO: make this log properly
func (g graphLogger) Debugf(format string, v ...interface{}) {
	fmt.Printf(format, v...)
	fmt.Println()
}

func main() {
	opts, err := config.NewCmdEnvOptions(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line parsing error '%s' -- call with --help for usage.\n", err)
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	a := app.App{}

	c, err := config.NewConfig(opts)
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}
	if opts.Validate {
		fmt.Println("Config validated successfully.")
		os.Exit(0)
	}

	lgr := logger.GetLoggerImplementation(c.GetLoggerType())

	// set log level
	logLevel := c.GetLoggerLevel().String()
	if err := lgr.SetLevel(logLevel); err != nil {
		fmt.Printf("unable to set logging level: %v\n", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	registry := stats.NewRegistryWithInterval(clock, c.GetSeed(), c.GetTickInterval())
	instanceID := uuid.NewString()

	// upstreamTransport is the http transport used to push snapshots to the
	// upstream collector
	upstreamTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		Dial: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 15 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	// we need to include all the sink types so we can inject them in case
	// they're needed, but we only want to instantiate the ones that are
	// enabled with non-null values
	var consoleSink reporter.Sink = &reporter.NullSink{}
	var jsonSink reporter.Sink = &reporter.NullSink{}
	var upstreamSink reporter.Sink = &reporter.NullSink{}
	var promSink reporter.Sink = &reporter.NullSink{}
	if c.GetConsoleEnabled() {
		consoleSink = &reporter.ConsoleSink{}
	}
	if c.GetJSONReporter().Enabled {
		jsonSink = &reporter.JSONSink{}
	}
	if c.GetUpstreamReporter().Enabled {
		upstreamSink = &reporter.UpstreamSink{}
	}
	if c.GetPrometheus().Enabled {
		promSink = &reporter.PromSink{}
	}

	var g inject.Graph
	if opts.Debug {
		g.Logger = graphLogger{}
	}
	objects := []*inject.Object{
		{Value: c},
		{Value: lgr},
		{Value: clock},
		{Value: registry},
		{Value: upstreamTransport, Name: "upstreamTransport"},
		{Value: consoleSink, Name: "consoleSink"},
		{Value: jsonSink, Name: "jsonSink"},
		{Value: upstreamSink, Name: "upstreamSink"},
		{Value: promSink, Name: "promSink"},
		{Value: version, Name: "version"},
		{Value: instanceID, Name: "instanceID"},
		{Value: &health.Health{}},
		{Value: &route.Router{}},
		{Value: &reporter.Reporter{}},
		{Value: &a},
	}
	err = g.Provide(objects...)
	if err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// the logger provided to startstop must be valid before any service is
	// started, meaning it can't rely on injected configs. make a custom logger
	// just for this step
	ststLogger := logrus.New()
	ststLogger.SetLevel(logrus.DebugLevel)

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}

	// set up signal channel to exit
	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)

	// block on our signal handler to exit
	sig := <-sigsToExit
	a.Logger.Error().Logf("Caught signal \"%s\"", sig)
}
