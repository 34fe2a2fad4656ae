package main

import (
	"fmt"
	"log"
	"os"

	"github.com/catalogstream/enrichd"
	"github.com/catalogstream/enrichd/capture"
	"github.com/catalogstream/enrichd/kafka"
	"github.com/catalogstream/enrichd/logger"
	"github.com/jaffee/commandeer/pflag"
	"github.com/pkg/errors"
)

func main() {
	m := NewMain()
	if err := pflag.LoadEnv(m, "ENRICHD_", nil); err != nil {
		log.Fatal(err)
	}
	if m.DryRun {
		fmt.Printf("%+v\n", m)
		return
	}

	if err := m.Run(); err != nil {
		log := m.Log()
		if log == nil {
			// if we fail before a logger was instantiated
			logger.NewStandardLogger(os.Stderr).Errorf("Error running command: %v", err)
			os.Exit(1)
		}
		log.Errorf("Error running command: %v", err)
		os.Exit(1)
	}
}

// Main adds mode selection on top of the Kafka consumer: demo mode swaps the
// live feed for a capture file replay.
type Main struct {
	kafka.Main  `flag:"!embed"`
	Mode        string `help:"Ingest mode: 'demo' replays a capture file once, 'live' consumes from Kafka until stopped."`
	CapturePath string `help:"JSON capture file replayed in demo mode."`
}

func NewMain() *Main {
	m := &Main{
		Main: *kafka.NewMain(),
		Mode: enrichd.ModeDemo,
	}
	m.NewSource = func() (enrichd.Source, error) {
		switch m.Mode {
		case enrichd.ModeDemo:
			if m.CapturePath == "" {
				return nil, errors.New("missing required configuration: capture-path (demo mode)")
			}
			source := capture.NewSource()
			source.Path = m.CapturePath
			source.Log = m.Log()
			if err := source.Open(); err != nil {
				return nil, errors.Wrap(err, "opening capture source")
			}
			return source, nil

		case enrichd.ModeLive:
			return m.Main.OpenSource()

		default:
			return nil, errors.Errorf("unknown mode %q, expected %q or %q", m.Mode, enrichd.ModeDemo, enrichd.ModeLive)
		}
	}
	return m
}
