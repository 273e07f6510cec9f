// Dispenser controller gateway: framed commands from I2C slave or serial link,
// remote call to backend, framed reply.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/state"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "iotgw.hcl", "")
	flagCheck := flag.Bool("check", false, "read and validate config, then exit")
	flag.Parse()

	if sdnotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if *flagCheck {
		log.Infof("config ok driver=%s server=%s", config.Transport.Driver, config.Server.Addr())
		return
	}

	ctx, g := state.NewContext(log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.MustInit(ctx, config)

	err := run(ctx)
	if err != nil {
		g.Error(err, "run")
	}
	if cerr := g.Close(); cerr != nil {
		g.Error(cerr, "shutdown")
	}
	if err != nil {
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	g := state.GetGlobal(ctx)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v stopping", s)
			sdnotify(daemon.SdNotifyStopping)
			g.Alive.Stop()
		case <-g.Alive.StopChan():
		}
	}()

	sdnotify(daemon.SdNotifyReady)
	g.Log.Infof("iotgw running driver=%s", g.Config.Transport.Driver)
	err := g.Engine.Run(ctx, g.Alive)
	g.Log.Infof("iotgw stopped %s", g.Engine.Stat().String())
	if err == context.Canceled {
		err = nil
	}
	return err
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
