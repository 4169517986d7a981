// Package shell is the interactive command line for managing agents.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/usecase/agent"
)

// ErrQuit is returned by Execute for exit and quit.
var ErrQuit = errors.New("quit")

var errNoModels = domain.NewDomainError("shell", domain.ErrNotInitialized, "no model loader attached")

// Registry is the agent registry as seen by the shell.
type Registry interface {
	CreateAgent(agentType, id string) (*agent.Agent, error)
	DestroyAgent(id string) error
	GetAgent(id string) (*agent.Agent, bool)
	ListAgents() []string
	Statuses() []domain.AgentStatus
}

// Dispatcher is the task dispatcher as seen by the shell.
type Dispatcher interface {
	SubmitTask(task domain.Task) error
	Stats() domain.DispatcherStats
}

// Models is the model loader as seen by the shell.
type Models interface {
	List() []string
	Get(name string) (domain.Model, error)
	Unregister(name string) error
}

// Option configures a Shell.
type Option func(*Shell)

// WithModels enables the models and unload commands.
func WithModels(m Models) Option {
	return func(s *Shell) { s.models = m }
}

type command struct {
	usage   string
	help    string
	minArgs int
	run     func(ctx context.Context, args []string) error
}

// Shell parses and executes commands against a registry and dispatcher.
type Shell struct {
	registry   Registry
	dispatcher Dispatcher
	models     Models
	version    string
	logger     *slog.Logger
	sym        symbols

	outMu sync.Mutex
	out   io.Writer

	commands map[string]command
}

// New creates a shell writing to out.
func New(registry Registry, dispatcher Dispatcher, out io.Writer, version string, logger *slog.Logger, opts ...Option) *Shell {
	s := &Shell{
		registry:   registry,
		dispatcher: dispatcher,
		version:    version,
		logger:     logger,
		sym:        detectSymbols(),
		out:        out,
	}
	s.commands = map[string]command{
		"help":    {usage: "help", help: "Show this help", run: s.cmdHelp},
		"version": {usage: "version", help: "Show the version", run: s.cmdVersion},
		"list":    {usage: "list", help: "List agent ids", run: s.cmdList},
		"create":  {usage: "create <type> [id]", help: "Create an agent", minArgs: 1, run: s.cmdCreate},
		"start":   {usage: "start <id>", help: "Start an agent", minArgs: 1, run: s.transition("started", (*agent.Agent).Start)},
		"stop":    {usage: "stop <id>", help: "Stop an agent", minArgs: 1, run: s.transition("stopped", (*agent.Agent).Stop)},
		"pause":   {usage: "pause <id>", help: "Pause an agent", minArgs: 1, run: s.transition("paused", (*agent.Agent).Pause)},
		"resume":  {usage: "resume <id>", help: "Resume an agent", minArgs: 1, run: s.transition("resumed", (*agent.Agent).Resume)},
		"destroy": {usage: "destroy <id>", help: "Stop and remove an agent", minArgs: 1, run: s.cmdDestroy},
		"process": {usage: "process <id> <v1> [v2...]", help: "Run input through an agent now", minArgs: 2, run: s.cmdProcess},
		"submit":  {usage: "submit <id> <v1> [v2...]", help: "Queue input for an agent on the dispatcher", minArgs: 2, run: s.cmdSubmit},
		"status":  {usage: "status", help: "Show agents and dispatcher activity", run: s.cmdStatus},
		"models":  {usage: "models", help: "List loaded models", run: s.cmdModels},
		"unload":  {usage: "unload <name>", help: "Drop a loaded model; agents keep theirs", minArgs: 1, run: s.cmdUnload},
		"exit":    {usage: "exit", help: "Leave the shell", run: quit},
		"quit":    {usage: "quit", help: "Leave the shell", run: quit},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func quit(context.Context, []string) error { return ErrQuit }

// Execute runs a single command line. Empty lines are ignored.
func (s *Shell) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := s.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try 'help')", name)
	}
	if len(args) < cmd.minArgs {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, args)
}

// Run reads commands from in until exit, EOF or ctx cancellation.
// historyFile may be empty.
func (s *Shell) Run(ctx context.Context, in io.Reader, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            styleTitle.Render("xyz") + "> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      s.completer(),
		Stdin:             readline.NewCancelableStdin(in),
		Stdout:            s.out,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	s.printf("%s %s\n", styleTitle.Render("xyz agent shell"), styleMuted.Render(s.version))
	s.printf("Type 'help' for commands.\n")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				s.printf("Goodbye!\n")
				return nil
			}
			s.logger.Debug("command failed", "line", line, "error", err, "error_code", string(domain.ErrorCodeOf(err)))
			s.printf("%s %v\n", styleErr.Render(s.sym.fail), err)
		}
	}
}

func (s *Shell) completer() readline.AutoCompleter {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) ok(format string, args ...any) {
	s.printf("%s %s\n", styleOK.Render(s.sym.ok), fmt.Sprintf(format, args...))
}

func (s *Shell) cmdHelp(context.Context, []string) error {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(styleHeader.Render("Commands") + "\n")
	for _, name := range names {
		c := s.commands[name]
		b.WriteString("  " + styleCommand.Render(c.usage) + c.help + "\n")
	}
	s.printf("%s", b.String())
	return nil
}

func (s *Shell) cmdVersion(context.Context, []string) error {
	s.printf("xyz %s\n", s.version)
	return nil
}

func (s *Shell) cmdList(context.Context, []string) error {
	ids := s.registry.ListAgents()
	if len(ids) == 0 {
		s.printf("%s\n", styleMuted.Render("no agents"))
		return nil
	}
	for _, id := range ids {
		s.printf("  %s %s\n", s.sym.bullet, id)
	}
	return nil
}

func (s *Shell) cmdCreate(_ context.Context, args []string) error {
	id := ""
	if len(args) > 1 {
		id = args[1]
	}
	a, err := s.registry.CreateAgent(args[0], id)
	if err != nil {
		return err
	}
	s.ok("created agent %s (%s)", a.ID(), a.Type())
	return nil
}

func (s *Shell) lookup(id string) (*agent.Agent, error) {
	a, ok := s.registry.GetAgent(id)
	if !ok {
		return nil, domain.NewSubSystemError("agent", "shell", domain.ErrNotFound, id)
	}
	return a, nil
}

func (s *Shell) transition(verb string, fn func(*agent.Agent) error) func(context.Context, []string) error {
	return func(_ context.Context, args []string) error {
		a, err := s.lookup(args[0])
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		s.ok("agent %s %s", a.ID(), verb)
		return nil
	}
}

func (s *Shell) cmdDestroy(_ context.Context, args []string) error {
	if err := s.registry.DestroyAgent(args[0]); err != nil {
		return err
	}
	s.ok("destroyed agent %s", args[0])
	return nil
}

func (s *Shell) cmdProcess(ctx context.Context, args []string) error {
	a, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	input, err := parseValues(args[1:])
	if err != nil {
		return err
	}
	out, err := a.ProcessData(ctx, input)
	if err != nil {
		return err
	}
	s.ok("%s output %s", a.ID(), formatValues(out))
	return nil
}

func (s *Shell) cmdSubmit(_ context.Context, args []string) error {
	a, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	input, err := parseValues(args[1:])
	if err != nil {
		return err
	}
	err = s.dispatcher.SubmitTask(domain.Task{
		AgentID: a.ID(),
		Input:   input,
		Callback: func(result []float64) {
			if err := a.RecordOutput(result); err != nil {
				s.printf("%s task for %s failed: %v\n", styleErr.Render(s.sym.fail), a.ID(), err)
				return
			}
			s.printf("%s task for %s done: %s\n", styleOK.Render(s.sym.ok), a.ID(), formatValues(result))
		},
	})
	if err != nil {
		return err
	}
	s.ok("task queued for %s", a.ID())
	return nil
}

func (s *Shell) cmdModels(context.Context, []string) error {
	if s.models == nil {
		return errNoModels
	}
	names := s.models.List()
	if len(names) == 0 {
		s.printf("  %s\n", styleMuted.Render("no models loaded"))
		return nil
	}
	for _, name := range names {
		m, err := s.models.Get(name)
		if err != nil {
			// Unloaded between List and Get.
			continue
		}
		s.printf("  %-20s %s\n", name, styleMuted.Render(string(m.Type())))
	}
	return nil
}

func (s *Shell) cmdUnload(_ context.Context, args []string) error {
	if s.models == nil {
		return errNoModels
	}
	if err := s.models.Unregister(args[0]); err != nil {
		return err
	}
	s.ok("model %s unloaded", args[0])
	return nil
}

func (s *Shell) cmdStatus(context.Context, []string) error {
	var b strings.Builder
	b.WriteString(styleHeader.Render("Agents") + "\n")
	statuses := s.registry.Statuses()
	if len(statuses) == 0 {
		b.WriteString("  " + styleMuted.Render("no agents") + "\n")
	}
	for _, st := range statuses {
		fmt.Fprintf(&b, "  %-28s %-14s %s model=%s outputs=%d\n",
			st.ID, st.Type, renderState(st.State), st.ModelID, st.OutputLen)
	}

	stats := s.dispatcher.Stats()
	b.WriteString(styleHeader.Render("Dispatcher") + "\n")
	fmt.Fprintf(&b, "  workers=%d busy=%d queued=%d submitted=%d completed=%d failed=%d dropped=%d\n",
		stats.Workers, stats.Busy, stats.Queued, stats.Submitted, stats.Completed, stats.Failed, stats.Dropped)
	s.printf("%s", b.String())
	return nil
}

func parseValues(args []string) ([]float64, error) {
	values := make([]float64, 0, len(args))
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part == "" {
				continue
			}
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidInput, part)
			}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", domain.ErrInvalidInput)
	}
	return values, nil
}

func formatValues(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
