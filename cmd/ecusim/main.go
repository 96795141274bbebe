package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/fourstroke/ecucore/internal/cli"
	"github.com/fourstroke/ecucore/internal/corelog"
	"github.com/fourstroke/ecucore/internal/dash"
	"github.com/fourstroke/ecucore/internal/ecu"
	"github.com/fourstroke/ecucore/internal/ecu/output"
	"github.com/fourstroke/ecucore/internal/ecu/trigger"
	"github.com/fourstroke/ecucore/internal/ecuconfig"
	"github.com/fourstroke/ecucore/internal/fault"
	"github.com/fourstroke/ecucore/internal/telemetry"
	"github.com/fourstroke/ecucore/web"
)

func main() {
	configPath := flag.String("config", "/etc/ecucore/config.yaml", "Path to config file")
	simulate := flag.Bool("sim", false, "Run against a simulated crank-pulse generator instead of a real trigger-wheel input")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] ecucore starting")

	cfg := ecuconfig.LoadConfig(*configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	driver := buildDriver(cfg)
	newDecoder := buildDecoderFactory(cfg)

	core := ecu.New(driver, newDecoder, ecu.IgnitionConfig{
		FuelMsec:             cfg.Ignition.FuelMsec,
		TimingAdvance:        cfg.Ignition.TimingAdvance,
		TimingAdvanceEnabled: cfg.Ignition.TimingAdvanceEnabled,
		TrimFlag:             cfg.Ignition.TrimFlag,
	})
	defer core.Close()

	core.Task.SetLoopTimingTrace(cfg.Ignition.LoopTimingTrace)

	rec := telemetry.New(telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Path:       cfg.Telemetry.Path,
		RotateSize: cfg.Telemetry.RotateSize,
	})
	defer rec.Close()

	core.Start(ctx)
	go recordLoop(ctx, core, rec)

	cliLog := corelog.New("cli")
	defer cliLog.Close()
	cliReader, cliWriter := buildCLIPort(cfg)
	mgmt := cli.NewManagement(cliLog, core.Die, driver, core.Decoder, core.Sched, core.Task.State, cliWriter, cfg.Ignition.DebugProbes, cliReader)
	mgmt.SetRecordMode(cfg.Ignition.RecordMode)
	go mgmt.Run(ctx)

	if *simulate || cfg.CLI.PortPath == "" {
		go runSimSource(ctx, core, cfg)
	}

	if cfg.Dash.Enabled {
		dashSrv := dash.New(cfg.Dash.ListenAddr, core, web.FS, 20)
		if err := dashSrv.Run(ctx); err != nil {
			log.Printf("[main] dashboard exited: %v", err)
		}
		return
	}

	<-ctx.Done()
}

func buildDriver(cfg *ecuconfig.Config) output.Driver {
	if cfg.CLI.PortPath == "" {
		return output.NewSim()
	}
	drv, err := output.OpenSerial(output.SerialConfig{
		PortPath: cfg.CLI.PortPath,
		BaudRate: cfg.CLI.BaudRate,
	})
	if err != nil {
		log.Printf("[main] failed to open output rig %s: %v, falling back to Sim", cfg.CLI.PortPath, err)
		return output.NewSim()
	}
	return drv
}

func buildDecoderFactory(cfg *ecuconfig.Config) ecu.NewDecoder {
	switch cfg.Wheel.Pattern {
	case "hyundai_60_2":
		return func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder {
			return trigger.NewHyundai60x2(die, ticker)
		}
	default:
		return func(die *fault.Sink, ticker trigger.EventTicker) trigger.Decoder {
			return trigger.NewSubaru36222(die, ticker)
		}
	}
}

// buildCLIPort opens its own serial connection for the command console
// on cfg.CLI.PortPath, the same device path buildDriver opens for the
// output.Serial rig; the two connections are separate handles, not a
// shared one. The write side is nil for the stdin fallback (reading
// commands from a terminal has no matching place to push wire frames)
// and the open port itself when real hardware is configured, since
// go.bug.st/serial ports are bidirectional.
func buildCLIPort(cfg *ecuconfig.Config) (io.Reader, io.Writer) {
	if cfg.CLI.PortPath == "" {
		return os.Stdin, nil
	}
	port, err := serial.Open(cfg.CLI.PortPath, &serial.Mode{BaudRate: cfg.CLI.BaudRate})
	if err != nil {
		log.Printf("[main] failed to open CLI port %s: %v, falling back to stdin", cfg.CLI.PortPath, err)
		return os.Stdin, nil
	}
	return port, port
}

func runSimSource(ctx context.Context, core *ecu.Core, cfg *ecuconfig.Config) {
	profile := trigger.SubaruProfile
	if cfg.Wheel.Pattern == "hyundai_60_2" {
		profile = trigger.HyundaiProfile
	}

	rpm := cfg.Simulator.CrankRPM
	targetRPM := func() int { return rpm }

	src := trigger.NewSimSource(profile, targetRPM, cfg.Simulator.JitterPct, 1)
	go src.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case period, ok := <-src.Pulses():
			if !ok {
				return
			}
			core.PostTooth(period)
			if rpm < cfg.Simulator.IdleRPM {
				rpm += 5
			}
		}
	}
}

// recordLoop polls one telemetry.Frame per tick and hands it to the
// CSV recorder; Recorder.Record itself no-ops while disabled.
func recordLoop(ctx context.Context, core *ecu.Core, rec *telemetry.Recorder) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-core.Die.Dead():
			return
		case <-ticker.C:
			rec.Record(core.Snapshot())
		}
	}
}
