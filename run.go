package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"hadydotai/agentvm/lang"
	"hadydotai/agentvm/logging"

	"golang.org/x/text/language"
)

type RunCommand struct {
	Quanta  *int   `short:"q" long:"quanta" description:"Instructions per tick, -1 runs to completion (overrides run.quanta)"`
	Ticks   *int   `short:"t" long:"ticks" description:"Maximum number of ticks to run, 0 for no limit (overrides run.ticks)"`
	Save    string `long:"save" description:"Write the VM context to this archive when the run stops"`
	Restore string `long:"restore" description:"Resume from a VM context archive instead of starting fresh"`
	Args    struct {
		File string `positional-arg-name:"FILE" required:"yes"`
	} `positional-args:"yes"`
}

var runCommand RunCommand

func (cmd *RunCommand) Execute(args []string) error {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if err := cmd.override(cfg); err != nil {
		return err
	}

	script, _, err := loadScriptFile(cmd.Args.File)
	if err != nil {
		return err
	}

	runner := NewRunner(cfg, script)
	if cmd.Restore != "" {
		err = runner.Restore(cmd.Restore)
	} else {
		err = runner.Start()
	}
	if err != nil {
		return err
	}

	runErr := runner.Run(cfg.Run.Ticks)
	if cmd.Save != "" && runErr == nil {
		if err := runner.Save(cmd.Save); err != nil {
			return err
		}
	}
	return runErr
}

// override applies the flags that were given on the command line over cfg.
// An explicit zero is kept, so --ticks 0 lifts the tick limit.
func (cmd *RunCommand) override(cfg *Config) error {
	if cmd.Quanta != nil {
		cfg.Run.Quanta = *cmd.Quanta
	}
	if cmd.Ticks != nil {
		cfg.Run.Ticks = *cmd.Ticks
	}
	return cfg.validate()
}

// Runner drives one script in a fresh world, one UpdateVM call per tick.
type Runner struct {
	cfg    *Config
	script *lang.Script
	world  *lang.World
	repo   *lang.ScriptRepository
	vm     *lang.VM
	owner  lang.AgentHandle
	tag    language.Tag
}

func NewRunner(cfg *Config, script *lang.Script) *Runner {
	world := lang.NewWorld()
	r := &Runner{
		cfg:    cfg,
		script: script,
		world:  world,
		repo:   lang.NewScriptRepository(),
		vm:     lang.NewVM(table, world),
		owner:  cfg.Populate(world),
		tag:    cfg.Language(),
	}
	r.vm.Output = os.Stdout
	r.vm.FrozenThreshold = cfg.Run.FrozenThreshold
	policy, _ := cfg.FrozenPolicy()
	r.vm.OnFrozen = func(*lang.VM) lang.FrozenAction { return policy }
	return r
}

func (r *Runner) install() error {
	if s, ok := r.repo.Script(r.script.Name); ok && s == r.script {
		return nil
	}
	return r.repo.Install(r.script)
}

// Start begins the script on the configured owner.
func (r *Runner) Start() error {
	if err := r.install(); err != nil {
		return err
	}
	r.vm.StartScriptExecuting(r.script, r.owner, lang.AgentHandle{}, lang.IntegerValue(0), lang.IntegerValue(0))
	return nil
}

// Tick advances the world by one tick. It reports whether the script has
// finished.
func (r *Runner) Tick() (bool, error) {
	return r.Step(r.cfg.Run.Quanta)
}

// Step is Tick with an explicit instruction budget.
func (r *Runner) Step(quanta int) (bool, error) {
	if !r.vm.IsRunning() {
		return true, nil
	}
	r.world.Tick++
	finished, err := r.vm.UpdateVM(quanta)
	logging.Log(logging.LogLevelDebug, "tick", "tick", r.world.Tick, "executed", r.vm.Executed(), "state", r.vm.State().String())
	return finished, err
}

// Run ticks until the script finishes or ticks run out.
func (r *Runner) Run(ticks int) error {
	for i := 0; ticks <= 0 || i < ticks; i++ {
		finished, err := r.Tick()
		if err != nil {
			return r.report(err)
		}
		if finished {
			logging.Log(logging.LogLevelInfo, "Script finished", "script", r.script.Name, "ticks", i+1)
			return nil
		}
	}
	logging.Log(logging.LogLevelInfo, "Tick limit reached", "script", r.script.Name, "ticks", ticks, "state", r.vm.State().String())
	return nil
}

// report stops the failed script and renders the error in the configured
// locale.
func (r *Runner) report(err error) error {
	logging.LogErr(err, "Script failed", "script", r.script.Name, "tick", r.world.Tick)
	r.vm.StopScriptExecuting()
	return errors.New(lang.FormatRunError(r.tag, err))
}

func (r *Runner) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	err = r.save(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write archive %s: %w", path, err)
	}
	logging.Log(logging.LogLevelInfo, "Saved VM context", "archive", path, "state", r.vm.State().String())
	return nil
}

func (r *Runner) save(w io.Writer) error {
	aw, err := lang.NewArchiveWriter(w, r.world.Agents)
	if err != nil {
		return err
	}
	return r.vm.Write(aw)
}

func (r *Runner) Restore(path string) error {
	if err := r.install(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()
	if err := r.restore(f); err != nil {
		return fmt.Errorf("failed to restore %s: %w", path, err)
	}
	logging.Log(logging.LogLevelInfo, "Restored VM context", "archive", path, "state", r.vm.State().String())
	return nil
}

func (r *Runner) restore(rd io.Reader) error {
	ar, err := lang.NewArchiveReader(rd, r.world.Agents)
	if err != nil {
		return err
	}
	return r.vm.Read(ar, r.repo)
}

func init() {
	flagsparser.AddCommand(
		"run",
		"Run a script",
		"Runs a compiled .avm script or assembly source on a fresh world, one UpdateVM call per tick",
		&runCommand,
	)
}
