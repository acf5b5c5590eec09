package manager

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/agent/registry"
	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
)

// EventSink receives lifecycle notifications from the Manager. Orchestrator
// wiring implements this to react to agents being spawned and stopped (the
// Manager publishes "agent.spawned" and "agent.stopped") without the manager
// package depending on the orchestrator.
type EventSink interface {
	Publish(eventType string, payload map[string]any)
}

type noopSink struct{}

func (noopSink) Publish(string, map[string]any) {}

const (
	defaultCols = 120
	defaultRows = 40

	// placeholder state held momentarily between reserving a capacity slot
	// and the PTY subprocess actually starting.
	statePlaceholder = "placeholder"
)

// ManagedAgent is one running PTY-backed agent subprocess.
type ManagedAgent struct {
	ID   agent.ID
	Role agent.Role

	mu    sync.Mutex // serializes Send calls against this agent
	state agent.LifecycleState

	cmd  *exec.Cmd
	pty  PTY
	term *lineTerminal

	completion CompletionPredicate
	sendTimeout time.Duration
	stopGrace   time.Duration

	outputMu   sync.Mutex
	turnSignal chan struct{} // buffered 1; signalled every time new output arrives

	createdAt time.Time
	log       *logger.Logger

	readerDone chan struct{}
	stopOnce   sync.Once
}

// State returns the agent's current lifecycle state.
func (a *ManagedAgent) State() agent.LifecycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *ManagedAgent) setState(s agent.LifecycleState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Info is a snapshot of a ManagedAgent suitable for listing.
type Info struct {
	ID        agent.ID
	Role      string
	State     agent.LifecycleState
	CreatedAt time.Time
}

// Manager owns the fleet of PTY-backed agent subprocesses, enforcing a
// single global capacity and serializing input delivery per agent.
type Manager struct {
	mu        sync.Mutex
	agents    map[agent.ID]*ManagedAgent
	maxAgents int

	registry *registry.Registry
	sink     EventSink
	log      *logger.Logger

	sendTimeout time.Duration
	stopGrace   time.Duration
	completion  CompletionPredicate

	promptDir string
}

// Config configures a Manager.
type Config struct {
	MaxAgents       int
	SendTimeout     time.Duration
	StopGrace       time.Duration
	SystemPromptDir string
	Completion      CompletionPredicate
}

// New builds a Manager backed by reg for role->command resolution.
func New(cfg Config, reg *registry.Registry, sink EventSink, log *logger.Logger) *Manager {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if cfg.Completion == nil {
		cfg.Completion = DefaultCompletionPredicate
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Manager{
		agents:      make(map[agent.ID]*ManagedAgent),
		maxAgents:   cfg.MaxAgents,
		registry:    reg,
		sink:        sink,
		log:         log.WithFields(zap.String("component", "agent_manager")),
		sendTimeout: cfg.SendTimeout,
		stopGrace:   cfg.StopGrace,
		completion:  cfg.Completion,
		promptDir:   cfg.SystemPromptDir,
	}
}

// SetEventSink replaces the Manager's lifecycle sink. Intended for startup
// wiring, before any agent has been spawned: callers that construct the
// sink from the Manager itself (e.g. an orchestrator that dispatches
// through this same Manager) have no other way to break the construction
// cycle.
func (m *Manager) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	m.sink = sink
}

// Spawn launches a new PTY agent for role, enforcing the global capacity
// cap. Capacity check and map insertion happen inside one critical section
// (a placeholder entry reserves the slot) so concurrent Spawn calls cannot
// race past the cap.
func (m *Manager) Spawn(ctx context.Context, role agent.Role) (agent.ID, error) {
	cfg, err := m.registry.Get(role.String())
	if err != nil {
		return agent.ID{}, err
	}

	id := agent.NewID()
	placeholder := &ManagedAgent{ID: id, Role: role, state: agent.StateStarting, createdAt: time.Now().UTC()}

	m.mu.Lock()
	if len(m.agents) >= m.maxAgents {
		m.mu.Unlock()
		return agent.ID{}, apperrors.CapacityExceeded("agent_manager")
	}
	m.agents[id] = placeholder
	m.mu.Unlock()

	managed, err := m.startProcess(ctx, id, role, cfg)
	if err != nil {
		m.mu.Lock()
		delete(m.agents, id)
		m.mu.Unlock()
		return agent.ID{}, err
	}

	m.mu.Lock()
	m.agents[id] = managed
	m.mu.Unlock()

	m.sink.Publish("agent.spawned", map[string]any{"agent_id": id.String(), "role": role.String()})
	return id, nil
}

func (m *Manager) startProcess(ctx context.Context, id agent.ID, role agent.Role, cfg *registry.AgentTypeConfig) (*ManagedAgent, error) {
	if err := registry.ValidateCommand(cfg.Command); err != nil {
		return nil, apperrors.ValidationError("command", err.Error())
	}

	args := append([]string{}, cfg.Command[1:]...)
	if cfg.DisableConfirmFlag != "" {
		args = append(args, cfg.DisableConfirmFlag)
	}
	cmd := exec.CommandContext(ctx, cfg.Command[0], args...)
	cmd.Dir = cfg.WorkingDir

	promptPath := m.registry.SystemPromptPath(role.SystemPromptPath())
	env := []string{fmt.Sprintf("AGENT_SYSTEM_PROMPT=%s", promptPath), fmt.Sprintf("AGENT_ROLE=%s", role.String())}
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Environ(), env...)

	pt, err := startPTY(cmd, defaultCols, defaultRows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to start agent process")
	}

	managed := &ManagedAgent{
		ID:          id,
		Role:        role,
		state:       agent.StateReady,
		cmd:         cmd,
		pty:         pt,
		term:        newLineTerminal(defaultCols, defaultRows),
		completion:  m.completion,
		sendTimeout: m.sendTimeout,
		stopGrace:   m.stopGrace,
		turnSignal:  make(chan struct{}, 1),
		createdAt:   time.Now().UTC(),
		log:         m.log.WithAgentID(id).WithFields(zap.String("role", role.String())),
		readerDone:  make(chan struct{}),
	}

	go managed.readLoop()
	return managed, nil
}

// readLoop owns the blocking PTY read; it is the one dedicated goroutine per
// agent that the rest of the package never blocks on directly.
func (a *ManagedAgent) readLoop() {
	defer close(a.readerDone)
	buf := make([]byte, 4096)
	for {
		n, err := a.pty.Read(buf)
		if n > 0 {
			a.outputMu.Lock()
			a.term.Write(buf[:n])
			a.outputMu.Unlock()
			select {
			case a.turnSignal <- struct{}{}:
			default:
			}
		}
		if err != nil {
			a.setState(agent.StateStopped)
			return
		}
	}
}

// Send delivers input to the agent and blocks until the completion
// predicate reports the turn finished or the timeout elapses. Concurrent
// Send calls against the same agent are rejected with AgentBusy rather than
// queued, since a PTY has no notion of multiplexed turns.
func (m *Manager) Send(ctx context.Context, id agent.ID, input string) (string, error) {
	managed, err := m.get(id)
	if err != nil {
		return "", err
	}

	if !managed.mu.TryLock() {
		return "", apperrors.AgentBusy(id.String())
	}
	defer managed.mu.Unlock()

	if managed.state != agent.StateReady {
		return "", apperrors.AgentUnavailable(id.String(), managed.state.String())
	}
	managed.state = agent.StateBusy

	if _, err := managed.pty.Write([]byte(input + "\n")); err != nil {
		managed.state = agent.StateError
		return "", apperrors.Wrap(err, "failed to write to agent")
	}

	timeout := managed.sendTimeout
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			managed.state = agent.StateReady
			return "", apperrors.Timeout("send")
		case <-deadline.C:
			managed.state = agent.StateReady
			return "", apperrors.Timeout("send")
		case <-managed.turnSignal:
		case <-ticker.C:
		}

		managed.outputMu.Lock()
		lines := managed.term.Lines()
		managed.outputMu.Unlock()

		if managed.completion(lines) {
			managed.state = agent.StateReady
			return joinLines(lines), nil
		}
	}
}

// joinLines builds a Send reply from the completed screen rows, skipping
// blank ones. It sees only the rows currently on the virtual screen: rows
// that scrolled off during a long turn are not included, and rows printed
// before this Send began can be.
func joinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Stop terminates the agent gracefully, sending SIGTERM and waiting up to
// the configured grace period before force-killing the process.
func (m *Manager) Stop(id agent.ID) error {
	managed, err := m.get(id)
	if err != nil {
		return err
	}
	managed.stop()

	m.mu.Lock()
	delete(m.agents, id)
	m.mu.Unlock()

	m.sink.Publish("agent.stopped", map[string]any{"agent_id": id.String()})
	return nil
}

func (a *ManagedAgent) stop() {
	a.stopOnce.Do(func() {
		a.setState(agent.StateStopping)
		if a.cmd != nil && a.cmd.Process != nil {
			_ = a.cmd.Process.Signal(stopSignal)
		}
		select {
		case <-a.readerDone:
		case <-time.After(a.stopGrace):
			if a.cmd != nil && a.cmd.Process != nil {
				_ = a.cmd.Process.Kill()
			}
		}
		if a.pty != nil {
			_ = a.pty.Close()
		}
		a.setState(agent.StateStopped)
	})
}

// StopAll terminates every managed agent, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]agent.ID, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Stop(id)
		})
	}
	_ = g.Wait()
}

// List returns a snapshot of every managed agent.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, Info{ID: a.ID, Role: a.Role.String(), State: a.State(), CreatedAt: a.createdAt})
	}
	return out
}

// Len reports the current number of managed agents, including those still
// starting up.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

func (m *Manager) get(id agent.ID) (*ManagedAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, apperrors.NotFound("agent", id.String())
	}
	return a, nil
}
