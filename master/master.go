// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package master implements the RACE master lifecycle controller (spec
// §4.3): it drives every registered actor through Create→Initialize→Start,
// fans out Pause/Resume/Terminate, enforces per-phase timeouts with
// rollback on failure, and classifies actor failures as critical, optional,
// or restartable.
package master

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"
	"golang.org/x/sync/errgroup"

	"github.com/race-rt/race/actorrt"
	"github.com/race-rt/race/addr"
	"github.com/race-rt/race/clog"
	"github.com/race-rt/race/raceerr"
)

// FailurePolicy classifies how the Master reacts to an actor reaching
// Failed (spec §4.3 "supervision").
type FailurePolicy int

const (
	// Critical tears the whole graph down when this actor fails.
	Critical FailurePolicy = iota
	// Optional logs the failure and leaves the rest of the graph running.
	Optional
	// Restartable re-spawns the actor from its original factory.
	Restartable
)

// entry is one actor registered with the Master.
type entry struct {
	name      string
	address   addr.Address
	policy    FailurePolicy
	spec      actorrt.Spec
	factory   func() actorrt.Actor
	dependsOn []string
}

// ClockSyncer broadcasts the current logical clock to a remote federation
// once the actor graph has started (spec §4.6 "Master broadcasts its base
// instant and scale to peers in SyncSimClock").
type ClockSyncer interface {
	SyncSimClock()
}

// Master orchestrates the phase lifecycle of every actor registered on a
// Runtime (spec §4.3).
type Master struct {
	rt  *actorrt.Runtime
	log *clog.CLogger

	clockSyncer ClockSyncer

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order, preserved for deterministic phase fan-out

	ackMu  sync.Mutex
	initCh map[addr.Address]chan error
	startCh map[addr.Address]chan error
	termCh map[addr.Address]chan struct{}
}

// SetClockSyncer wires a remote federation endpoint so StartAll broadcasts
// the logical clock to peers once every actor has started (spec §4.6).
func (m *Master) SetClockSyncer(c ClockSyncer) {
	m.clockSyncer = c
}

// NotifyRequiredPeerLost implements remote.PeerDisconnectNotifier: losing a
// required peer tears down the whole graph, the same as a critical actor
// failing (spec §4.6 "if the peer is required (not optional), the Master
// terminates the graph").
func (m *Master) NotifyRequiredPeerLost(peerID string) {
	m.log.Errorf("required peer %s lost, tearing down", peerID)
	m.TerminateAll(actorrt.DefaultPhaseTimeout)
}

// New creates a Master bound to rt. The Master installs itself as rt's
// PhaseListener and FailureNotifier.
func New(rt *actorrt.Runtime) *Master {
	m := &Master{
		rt:      rt,
		log:     clog.New("master "),
		entries: make(map[string]*entry),
		initCh:  make(map[addr.Address]chan error),
		startCh: make(map[addr.Address]chan error),
		termCh:  make(map[addr.Address]chan struct{}),
	}
	rt.SetPhaseListener(m)
	rt.SetFailureNotifier(m)
	return m
}

// Register creates an actor via factory, spawns it on the runtime, and adds
// it to the Master's managed graph under policy. factory is retained for
// Restartable re-spawn. dependsOn names other registered actors whose
// Initialize must complete successfully before this actor's own Initialize
// is sent (spec §4.3 step 2, §6 "optional dependency ordering"); omit it for
// actors with no ordering requirement.
func (m *Master) Register(name string, policy FailurePolicy, spec actorrt.Spec, factory func() actorrt.Actor, dependsOn ...string) addr.Address {
	address := m.rt.Spawn(name, factory(), spec)

	m.mu.Lock()
	m.entries[name] = &entry{name: name, address: address, policy: policy, spec: spec, factory: factory, dependsOn: dependsOn}
	m.order = append(m.order, name)
	m.mu.Unlock()

	return address
}

func (m *Master) dependsOnOf(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil
	}
	return e.dependsOn
}

func (m *Master) addressOf(name string) (addr.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return addr.Address{}, false
	}
	return e.address, true
}

func (m *Master) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// InitializeAll drives every registered actor through Initialize, honoring
// each actor's depends-on list (spec §4.3 step 2: "for each actor (in
// dependency order), send Initialize"; §6 "optional dependency ordering").
// Actors with no outstanding dependency initialize concurrently; an actor
// whose dependencies have not all initialized successfully waits before its
// own Initialize is sent. The whole phase is still an all-or-nothing
// barrier: on any failure (including an unregistered or cyclic dependency),
// already-initialized actors are rolled back via Terminate.
func (m *Master) InitializeAll(ctx context.Context, timeout time.Duration) error {
	names := m.names()
	if err := m.checkDependencyGraph(names); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	done := make(map[string]chan struct{}, len(names))
	for _, name := range names {
		done[name] = make(chan struct{})
	}

	var resMu sync.Mutex
	results := make(map[string]error, len(names))

	var succMu sync.Mutex
	succeeded := make([]string, 0, len(names))

	for _, name := range names {
		name := name
		g.Go(func() error {
			defer close(done[name])

			for _, dep := range m.dependsOnOf(name) {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					err := gctx.Err()
					resMu.Lock()
					results[name] = err
					resMu.Unlock()
					return err
				}
				resMu.Lock()
				depErr := results[dep]
				resMu.Unlock()
				if depErr != nil {
					err := fmt.Errorf("actor %s: dependency %s failed: %w", name, dep, depErr)
					resMu.Lock()
					results[name] = err
					resMu.Unlock()
					return err
				}
			}

			addrOf, _ := m.addressOf(name)
			ch := m.awaitInit(addrOf)
			if err := m.rt.Command(addrOf, actorrt.InitializeCmd{Timeout: timeout}); err != nil {
				wrapped := fmt.Errorf("actor %s: %w", name, err)
				resMu.Lock()
				results[name] = wrapped
				resMu.Unlock()
				return wrapped
			}
			select {
			case err := <-ch:
				if err != nil {
					wrapped := fmt.Errorf("actor %s: %w", name, err)
					resMu.Lock()
					results[name] = wrapped
					resMu.Unlock()
					return wrapped
				}
				resMu.Lock()
				results[name] = nil
				resMu.Unlock()
				succMu.Lock()
				succeeded = append(succeeded, name)
				succMu.Unlock()
				return nil
			case <-gctx.Done():
				err := gctx.Err()
				resMu.Lock()
				results[name] = err
				resMu.Unlock()
				return err
			}
		})
	}

	if err := g.Wait(); err != nil {
		m.log.Errorf("initialize phase failed: %v", err)
		for _, name := range succeeded {
			addrOf, _ := m.addressOf(name)
			_ = m.rt.Command(addrOf, actorrt.TerminateCmd{Timeout: timeout, Forced: true})
		}
		return err
	}
	return nil
}

// checkDependencyGraph validates that every depends-on name refers to a
// registered actor and that the dependency graph is acyclic, so
// InitializeAll's wait-for-dependency loop is guaranteed to terminate.
func (m *Master) checkDependencyGraph(names []string) error {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		color[name] = gray
		for _, dep := range m.dependsOnOf(name) {
			if !known[dep] {
				return raceerr.New(raceerr.KindConfiguration, name, "depends on unregistered actor %q", dep)
			}
			switch color[dep] {
			case gray:
				return raceerr.New(raceerr.KindConfiguration, name, "dependency cycle: %s -> %s", strings.Join(path, " -> "), dep)
			case white:
				if err := visit(dep, append(path, dep)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, n := range names {
		if color[n] == white {
			if err := visit(n, []string{n}); err != nil {
				return err
			}
		}
	}
	return nil
}

// StartAll drives every registered actor through Start concurrently (spec
// §4.3). Assumes InitializeAll already succeeded.
func (m *Master) StartAll(ctx context.Context, base time.Time, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.names() {
		name := name
		g.Go(func() error {
			addrOf, _ := m.addressOf(name)
			ch := m.awaitStart(addrOf)
			if err := m.rt.Command(addrOf, actorrt.StartCmd{Base: base, Timeout: timeout}); err != nil {
				return fmt.Errorf("actor %s: %w", name, err)
			}
			select {
			case err := <-ch:
				if err != nil {
					return fmt.Errorf("actor %s: %w", name, err)
				}
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if m.clockSyncer != nil {
		m.clockSyncer.SyncSimClock()
	}
	return nil
}

// PauseAll sends PauseCmd to every registered actor.
func (m *Master) PauseAll() {
	for _, name := range m.names() {
		addrOf, _ := m.addressOf(name)
		_ = m.rt.Command(addrOf, actorrt.PauseCmd{})
	}
}

// ResumeAll sends ResumeCmd to every registered actor.
func (m *Master) ResumeAll() {
	for _, name := range m.names() {
		addrOf, _ := m.addressOf(name)
		_ = m.rt.Command(addrOf, actorrt.ResumeCmd{})
	}
}

// TerminateAll drives every registered actor through Terminate concurrently
// and waits for all of them to reach Terminated, bounded by timeout (spec
// §4.3 "Master then tears down the bus" after the barrier).
func (m *Master) TerminateAll(timeout time.Duration) {
	var wg sync.WaitGroup
	for _, name := range m.names() {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			addrOf, _ := m.addressOf(name)
			ch := m.awaitTerm(addrOf)
			if err := m.rt.Command(addrOf, actorrt.TerminateCmd{Timeout: timeout}); err != nil {
				return
			}
			select {
			case <-ch:
			case <-time.After(timeout + time.Second):
				m.log.Warnf("actor %s did not confirm termination in time", name)
			}
		}()
	}
	wg.Wait()
}

func (m *Master) awaitInit(a addr.Address) chan error {
	ch := make(chan error, 1)
	m.ackMu.Lock()
	m.initCh[a] = ch
	m.ackMu.Unlock()
	return ch
}

func (m *Master) awaitStart(a addr.Address) chan error {
	ch := make(chan error, 1)
	m.ackMu.Lock()
	m.startCh[a] = ch
	m.ackMu.Unlock()
	return ch
}

func (m *Master) awaitTerm(a addr.Address) chan struct{} {
	ch := make(chan struct{}, 1)
	m.ackMu.Lock()
	m.termCh[a] = ch
	m.ackMu.Unlock()
	return ch
}

// PhaseListener implementation (called on the actor's own executor goroutine).

func (m *Master) OnInitialized(a addr.Address, caps []string) {
	m.ackMu.Lock()
	ch, ok := m.initCh[a]
	delete(m.initCh, a)
	m.ackMu.Unlock()
	if ok {
		ch <- nil
	}
}

func (m *Master) OnInitializeFailed(a addr.Address, reason error) {
	m.ackMu.Lock()
	ch, ok := m.initCh[a]
	delete(m.initCh, a)
	m.ackMu.Unlock()
	if ok {
		ch <- reason
	}
}

func (m *Master) OnStarted(a addr.Address) {
	m.ackMu.Lock()
	ch, ok := m.startCh[a]
	delete(m.startCh, a)
	m.ackMu.Unlock()
	if ok {
		ch <- nil
	}
}

func (m *Master) OnStartFailed(a addr.Address, reason error) {
	m.ackMu.Lock()
	ch, ok := m.startCh[a]
	delete(m.startCh, a)
	m.ackMu.Unlock()
	if ok {
		ch <- reason
	}
}

func (m *Master) OnTerminated(a addr.Address) {
	m.ackMu.Lock()
	ch, ok := m.termCh[a]
	delete(m.termCh, a)
	m.ackMu.Unlock()
	if ok {
		ch <- struct{}{}
	}
}

// FailureNotifier implementation.

// NotifyFailed applies the failed actor's FailurePolicy (spec §4.3):
// Critical tears down every other registered actor, Optional just logs,
// Restartable re-spawns a fresh instance from the original factory.
func (m *Master) NotifyFailed(a addr.Address, reason error) {
	m.mu.Lock()
	var failed *entry
	for _, e := range m.entries {
		if e.address.Equal(a) {
			failed = e
			break
		}
	}
	m.mu.Unlock()

	if failed == nil {
		m.log.Errorf("unknown actor %s failed: %v", a, reason)
		return
	}

	switch failed.policy {
	case Critical:
		m.log.Errorf("critical actor %s failed, tearing down: %v", failed.name, reason)
		m.TerminateAll(actorrt.DefaultPhaseTimeout)
	case Optional:
		m.log.Errorf("optional actor %s failed: %v", failed.name, reason)
	case Restartable:
		m.log.Printf("restartable actor %s failed, respawning: %v", failed.name, reason)
		newAddress := m.rt.Spawn(failed.name, failed.factory(), failed.spec)
		m.mu.Lock()
		failed.address = newAddress
		m.mu.Unlock()
		if raceerr.Is(reason, raceerr.KindInitialization) {
			return // caller is responsible for re-running InitializeAll/StartAll on the new address
		}
		_ = m.rt.Command(newAddress, actorrt.InitializeCmd{Timeout: actorrt.DefaultPhaseTimeout})
		_ = m.rt.Command(newAddress, actorrt.StartCmd{Timeout: actorrt.DefaultPhaseTimeout})
	}
}

// Row is one line of the actor-metrics table (spec §7 "Master
// maintains ... messages_received, messages_dropped, failures").
type Row struct {
	Name     string
	Phase    string
	Received int64
	Dropped  int64
	Failures int
}

// MetricsTable renders a fixed-width, Unicode-aware table of every actor's
// current metrics, for console display.
func (m *Master) MetricsTable() string {
	rows := make([]Row, 0)
	for _, mt := range m.rt.AllMetrics() {
		rows = append(rows, Row{Name: mt.Name, Phase: mt.Phase.String(), Received: mt.MessagesReceived, Dropped: mt.MessagesDropped, Failures: mt.Failures})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return renderTable(rows)
}

func renderTable(rows []Row) string {
	headers := []string{"actor", "phase", "received", "dropped", "failures"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = uniseg.StringWidth(h)
	}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{r.Name, r.Phase, fmt.Sprint(r.Received), fmt.Sprint(r.Dropped), fmt.Sprint(r.Failures)}
		for j, c := range cells[i] {
			if w := uniseg.StringWidth(c); w > widths[j] {
				widths[j] = w
			}
		}
	}

	var out string
	out += formatRow(headers, widths)
	for _, row := range cells {
		out += formatRow(row, widths)
	}
	return out
}

func formatRow(cols []string, widths []int) string {
	line := ""
	for i, c := range cols {
		pad := widths[i] - uniseg.StringWidth(c)
		line += c
		for p := 0; p < pad; p++ {
			line += " "
		}
		line += "  "
	}
	return line + "\n"
}
