// Command rallydemo runs rounds of workers against one barrier and prints
// when each worker sleeps, waits and is released.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gythreading/rally"
	"github.com/gythreading/rally/internal/config"
	"github.com/gythreading/rally/internal/driver"
	"github.com/gythreading/rally/internal/probe"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// -- Signal Handling --
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := Run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context, args []string, output io.Writer) error {
	flags := flag.NewFlagSet("rallydemo", flag.ContinueOnError)
	flags.SetOutput(output)
	threshold := flags.Int("n", config.DefaultThreshold, "Workers released together")
	rounds := flags.Int("rounds", config.DefaultRounds, "Rounds to run on the same barrier")
	minDelay := flags.Duration("min", config.MinWorkerDelay, "Shortest worker delay")
	maxDelay := flags.Duration("max", config.MaxWorkerDelay, "Longest worker delay")
	timeout := flags.Duration("timeout", 0, "Give up waiting after this long (0 waits forever)")
	target := flags.String("probe", "", "Delay each worker by one ICMP echo to this host instead of sleeping")
	debug := flags.Bool("debug", false, "Enable debug logging")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *rounds < 1 {
		return fmt.Errorf("rounds must be positive, got %d", *rounds)
	}

	b, err := rally.NewBarrier(*threshold)
	if err != nil {
		return err
	}

	// -- Logging Setup --
	logger := newLogger(output, *debug)
	defer logger.Sync()

	delay := driver.RandomDelay(*minDelay, *maxDelay)
	if *target != "" {
		delay = driver.ProbeDelay(probe.New(), *target)
	}

	d := driver.New(b,
		driver.WithLogger(logger),
		driver.WithDelay(delay),
		driver.WithTimeout(*timeout),
		driver.OnDone(func(r driver.Report) {
			printReport(output, r)
		}),
	)
	_, err = d.RunRounds(ctx, *rounds)
	return err
}

func newLogger(w io.Writer, debug bool) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return zap.New(core)
}

func printReport(w io.Writer, r driver.Report) {
	fmt.Fprintf(w, "round %d (%s): %d/%d released in %v, spread %v\n",
		r.Round, r.ID, len(r.Releases()), r.Threshold,
		r.Duration().Round(time.Millisecond), r.Spread())
	for _, e := range r.Events {
		line := fmt.Sprintf("  %s - %d - %s",
			e.At.Format(time.TimeOnly+".000"), e.Worker, e.Kind)
		switch e.Kind {
		case driver.Arrived:
			line += fmt.Sprintf(" after %v", e.Delay.Round(time.Millisecond))
		case driver.Released:
			line += fmt.Sprintf(" in generation %d", e.Generation)
		case driver.TimedOut:
			line += fmt.Sprintf(": %v", e.Err)
		}
		fmt.Fprintln(w, line)
	}
}
