// Command btshell is an interactive console for poking at a Bluetooth
// stack through a bthal session: scanning, GATT client traffic, A2DP
// and AVRCP control, and LE advertising, from one readline prompt.
//
// By default it runs against the in-memory fake stack, which answers
// every operation with canned results and a few seeded devices, so the
// console works on any machine without radio hardware. Real backends
// are selected with -backend.
//
// Usage:
//
//	btshell [flags]
//
// Flags:
//
//	-backend string    backend to drive (default "fake")
//	-config string     configuration file path
//	-adapter string    adapter id (bluez) or serial port (hciuart)
//	-name string       local name for advertising payloads
//	-log-level string  log level: debug, info, warn, error
//	-snoop string      write a traffic capture to this file
//
// Examples:
//
//	# Talk to the fake stack
//	btshell
//
//	# Drive the first BlueZ adapter, capturing traffic
//	btshell -backend bluez -snoop /tmp/bt.snoop
//
//	# Drive a serial HCI controller
//	btshell -backend hciuart -adapter /dev/ttyUSB0 -name lab-probe
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/chzyer/readline"

	"github.com/btforge/bthal"
)

var (
	gattAppUUID = bthal.New16BitUUID(0x4774)
	advAppUUID  = bthal.New16BitUUID(0x4144)
)

func main() {
	var (
		backend  = flag.String("backend", "", "backend to drive: "+backendNames)
		confPath = flag.String("config", "", "configuration file path")
		adapter  = flag.String("adapter", "", "adapter id (bluez) or serial port (hciuart)")
		name     = flag.String("name", "btshell", "local name for advertising payloads")
		logLevel = flag.String("log-level", "", "log level: debug, info, warn, error")
		snoopOut = flag.String("snoop", "", "write a traffic capture to this file")
	)
	flag.Parse()

	cfg := bthal.Config{}
	if *confPath != "" {
		c, err := bthal.LoadConfig(*confPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "btshell:", err)
			os.Exit(1)
		}
		cfg = c
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *adapter != "" {
		cfg.Adapter = *adapter
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *snoopOut != "" {
		cfg.SnoopPath = *snoopOut
	}

	if err := run(cfg, *name); err != nil {
		fmt.Fprintln(os.Stderr, "btshell:", err)
		os.Exit(1)
	}
}

func run(cfg bthal.Config, name string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "btshell> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	// Route all session logging through readline so log lines do not
	// tear the prompt.
	cfg.Logger = slog.New(slog.NewTextHandler(rl.Stdout(), &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	stack, err := newBackend(cfg, name)
	if err != nil {
		return err
	}

	sess, err := bthal.Open(cfg, stack)
	if err != nil {
		return err
	}
	defer sess.Close()

	k := newSink(rl.Stdout())
	k.bind(sess)

	// The GATT client is the one profile every backend carries; the
	// console is useless without it. The rest degrade to a note.
	if err := sess.GATTClient().Enable(k); err != nil {
		return fmt.Errorf("gatt client: %w", err)
	}
	if err := sess.GATTClient().RegisterApp(gattAppUUID); err != nil {
		return fmt.Errorf("register app: %w", err)
	}

	if err := sess.A2DP().Enable(a2dpEvents{k}); err != nil {
		fmt.Fprintf(rl.Stdout(), "note: a2dp unavailable: %v\n", err)
	}
	if err := sess.AVRCPController().Enable(avrcpEvents{k}); err != nil {
		fmt.Fprintf(rl.Stdout(), "note: avrcp unavailable: %v\n", err)
	}
	if err := sess.Advertiser().Enable(k); err != nil {
		fmt.Fprintf(rl.Stdout(), "note: advertising unavailable: %v\n", err)
	} else if err := sess.Advertiser().RegisterAdvertiser(advAppUUID); err != nil {
		fmt.Fprintf(rl.Stdout(), "note: register advertiser: %v\n", err)
	}

	sh := &shell{rl: rl, sess: sess, sink: k}
	sh.run()
	return nil
}
