// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
race loads a universe configuration file and runs the actor graph it
describes: every actor is spawned, initialized, and started, the logical
clock begins advancing, and the process serves a small stdin menu
(pause/resume/exit) until asked to shut down.

For usage details, run race with -h or --help.
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/race-rt/race/actorclass"
	"github.com/race-rt/race/actorrt"
	"github.com/race-rt/race/bus"
	"github.com/race-rt/race/clock"
	"github.com/race-rt/race/clog"
	"github.com/race-rt/race/config"
	"github.com/race-rt/race/master"
	"github.com/race-rt/race/raceerr"
	"github.com/race-rt/race/remote"
)

// Exit codes (spec §6: "0 normal, 1 configuration error, 2 startup failure,
// 3 fatal runtime failure").
const (
	exitOK             = 0
	exitConfiguration  = 1
	exitStartupFailure = 2
	exitRuntimeFailure = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	overrides, rest := splitOverrides(args)

	fs := newFlagSet()
	if err := fs.flagSet.Parse(rest); err != nil {
		return exitConfiguration
	}

	if fs.help {
		usage()
		return exitOK
	}

	configPath := fs.flagSet.Arg(0)
	if configPath == "" {
		usage()
		return exitConfiguration
	}

	if fs.logLevel != "" {
		clog.SetLevel(fs.logLevel)
	}

	universe, err := config.LoadWithOverrides(configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race: %v\n", err)
		return exitConfiguration
	}

	if fs.startTime != "" {
		universe.Clock.StartTime = fs.startTime
	}
	if fs.timeScale != 0 {
		universe.Clock.TimeScale = fs.timeScale
	}
	if fs.port != 0 {
		universe.Node.Port = fs.port
	}

	if err := validateClasses(universe); err != nil {
		fmt.Fprintf(os.Stderr, "race: %v\n", err)
		return exitConfiguration
	}

	if fs.check {
		fmt.Printf("%s: %d actor(s), configuration OK\n", configPath, len(universe.Actors))
		return exitOK
	}

	return serve(universe)
}

// serve boots the runtime described by universe and blocks until the
// foreground stdin menu reads "exit" or stdin reaches end of input. A
// runtime failure that tears the actor graph down does not end the menu
// loop, no signal handler is installed, and exitRuntimeFailure is never
// returned.
func serve(universe *config.Universe) int {
	startTime, err := parseStartTime(universe.Clock.StartTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race: %v\n", err)
		return exitConfiguration
	}

	scale := universe.Clock.TimeScale
	if scale == 0 {
		scale = 1
	}
	clk := clock.New(startTime, clock.WithScale(scale))
	sched := clock.NewScheduler(clk)
	defer sched.Close()

	b := bus.New()
	nodeID := universe.Node.ID
	if nodeID == "" {
		nodeID = "local"
	}
	rt := actorrt.NewRuntime(nodeID, b, clk, sched)

	federated := universe.Node.Port != 0 || len(universe.Node.Peers) > 0
	if federated && universe.Node.MaxClockDiff.Duration <= 0 {
		fmt.Fprintln(os.Stderr, "race: node.max-clock-diff is required when node.port or node.peers is set (spec §9: no implicit default)")
		return exitConfiguration
	}

	m := master.New(rt)

	var node *remote.Node
	if federated {
		node = remote.NewNode(nodeID, rt, b, clk)
		node.SetMaxClockSkew(universe.Node.MaxClockDiff.Duration)
		node.SetPeerDisconnectNotifier(m)
		if universe.Node.Port != 0 {
			if err := node.Listen(fmt.Sprintf(":%d", universe.Node.Port)); err != nil {
				fmt.Fprintf(os.Stderr, "race: %v\n", err)
				return exitStartupFailure
			}
		}
		for _, peer := range universe.Node.Peers {
			node.DialPeer(peer.Address, !peer.Optional)
		}
		m.SetClockSyncer(node)
		defer node.Close()
	}

	for _, a := range universe.Actors {
		a := a
		factory, ok := actorclass.Lookup(a.Class)
		if !ok {
			fmt.Fprintf(os.Stderr, "race: unknown actor class %q for actor %q\n", a.Class, a.Name)
			return exitStartupFailure
		}
		m.Register(a.Name, failurePolicyOf(a.FailurePolicy), specOf(a), func() actorrt.Actor {
			act, err := factory(a.Params)
			if err != nil {
				// Construction failures surface as an init failure once
				// Initialize runs, consistent with every other failure mode.
				return failedActor{err: err}
			}
			return act
		}, a.DependsOn...)
		if node != nil && a.Remote != "" {
			for _, ch := range a.ReadFrom {
				node.RequestRemoteChannel(a.Remote, ch)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), actorrt.DefaultPhaseTimeout*2)
	initErr := m.InitializeAll(ctx, actorrt.DefaultPhaseTimeout)
	cancel()
	if initErr != nil {
		fmt.Fprintf(os.Stderr, "race: initialization failed: %v\n", initErr)
		return exitStartupFailure
	}

	ctx, cancel = context.WithTimeout(context.Background(), actorrt.DefaultPhaseTimeout*2)
	startErr := m.StartAll(ctx, clk.Now(), actorrt.DefaultPhaseTimeout)
	cancel()
	if startErr != nil {
		fmt.Fprintf(os.Stderr, "race: start failed: %v\n", startErr)
		m.TerminateAll(actorrt.DefaultPhaseTimeout)
		return exitStartupFailure
	}

	fmt.Println("race: universe running; commands: pause, resume, exit")
	return menu(m)
}

// menu drives the foreground stdin control loop (spec §6.2).
func menu(m *master.Master) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "pause":
			m.PauseAll()
			fmt.Println(m.MetricsTable())
		case "resume":
			m.ResumeAll()
		case "exit":
			m.TerminateAll(actorrt.DefaultPhaseTimeout)
			return exitOK
		case "":
			// ignore blank lines
		default:
			fmt.Println("race: unrecognized command (pause, resume, exit)")
		}
	}
	m.TerminateAll(actorrt.DefaultPhaseTimeout)
	return exitOK
}

// failedActor is spawned in place of a class whose factory returned an
// error (e.g. a malformed "params" entry); its Initialize always fails so
// the normal Initialize-failure/rollback path handles it uniformly.
type failedActor struct{ err error }

func (f failedActor) Initialize(ctx *actorrt.Context) error { return f.err }
func (f failedActor) Start(ctx *actorrt.Context) error       { return nil }
func (f failedActor) Handle(ctx *actorrt.Context, msg any)   {}
func (f failedActor) Terminate(ctx *actorrt.Context) error   { return nil }

func specOf(a config.ActorConfig) actorrt.Spec {
	return actorrt.Spec{
		MailboxCapacity:  a.MailboxCapacity,
		Overflow:         overflowPolicyOf(a.Overflow),
		PausePolicy:      pausePolicyOf(a.PausePolicy),
		InitTimeout:      int64(a.InitTimeout.Duration),
		StartTimeout:     int64(a.StartTimeout.Duration),
		TerminateTimeout: int64(a.TerminateTimeout.Duration),
		FailureThreshold: a.FailureThreshold,
		ReadFrom:         a.ReadFrom,
		WriteTo:          a.WriteTo,
	}
}

func overflowPolicyOf(s string) actorrt.OverflowPolicy {
	switch s {
	case "drop-oldest":
		return actorrt.DropOldest
	case "block-sender":
		return actorrt.BlockSender
	default:
		return actorrt.DropNewest
	}
}

func pausePolicyOf(s string) actorrt.PausePolicy {
	if s == "drop" {
		return actorrt.PauseDrop
	}
	return actorrt.PauseBuffer
}

func failurePolicyOf(s string) master.FailurePolicy {
	switch s {
	case "optional":
		return master.Optional
	case "restartable":
		return master.Restartable
	default:
		// spec §4.3: "critical (default): terminate the whole graph."
		return master.Critical
	}
}

func parseStartTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, raceerr.New(raceerr.KindConfiguration, "", "invalid start-time %q: %v", s, err)
	}
	return t, nil
}

func validateClasses(universe *config.Universe) error {
	seen := make(map[string]bool)
	for _, a := range universe.Actors {
		if seen[a.Name] {
			return raceerr.New(raceerr.KindConfiguration, a.Name, "duplicate actor name")
		}
		seen[a.Name] = true
		if _, ok := actorclass.Lookup(a.Class); !ok {
			return raceerr.New(raceerr.KindConfiguration, a.Name, "unknown actor class %q (known: %v)", a.Class, actorclass.Names())
		}
	}
	return nil
}

// splitOverrides extracts every "-D<key>=<value>" argument (spec §6's
// getopt-style glued flag, which the stdlib flag package cannot parse on
// its own since each occurrence carries a distinct key rather than a fixed
// flag name) and returns the remaining arguments for normal flag.Parse.
func splitOverrides(args []string) (map[string]string, []string) {
	overrides := make(map[string]string)
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "-D") && len(a) > 2 {
			kv := a[2:]
			if eq := strings.IndexByte(kv, '='); eq >= 0 {
				overrides[kv[:eq]] = kv[eq+1:]
				continue
			}
		}
		rest = append(rest, a)
	}
	return overrides, rest
}

type flagBag struct {
	flagSet   *flag.FlagSet
	check     bool
	startTime string
	timeScale float64
	logLevel  string
	port      int
	help      bool
}

func newFlagSet() *flagBag {
	fb := &flagBag{flagSet: flag.NewFlagSet("race", flag.ContinueOnError)}
	fb.flagSet.BoolVar(&fb.check, "check", false, "parse and validate the config file only")
	fb.flagSet.StringVar(&fb.startTime, "start-time", "", "override clock base (RFC3339)")
	fb.flagSet.Float64Var(&fb.timeScale, "time-scale", 0, "override logical clock scale")
	fb.flagSet.StringVar(&fb.logLevel, "log-level", "", "debug|info|warn|error")
	fb.flagSet.IntVar(&fb.port, "port", 0, "override remote listen port")
	fb.flagSet.BoolVar(&fb.help, "h", false, "show usage information")
	fb.flagSet.BoolVar(&fb.help, "help", false, "show usage information")
	return fb
}

func usage() {
	fmt.Printf(`usage: race [-h|--help] [--check] [-Dkey=value]... [--start-time t] [--time-scale f] [--log-level l] [--port n] config-file

Loads config-file and runs the actor graph it describes in the foreground.
With --check, parses and validates the file without starting anything.

Known actor classes:
`)
	for _, name := range actorclass.Names() {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("\nFlags:")
	newFlagSet().flagSet.PrintDefaults()
}
