package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hadydotai/agentvm/lang"

	"github.com/alecthomas/repr"
	"github.com/chzyer/readline"
)

type DebugCommand struct {
	Restore string `long:"restore" description:"Resume from a VM context archive instead of starting fresh"`
	Args    struct {
		File string `positional-arg-name:"FILE" required:"yes"`
	} `positional-args:"yes"`
}

var debugCommand DebugCommand

func (cmd *DebugCommand) Execute(args []string) error {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	script, source, err := loadScriptFile(cmd.Args.File)
	if err != nil {
		return err
	}
	repl := NewREPL(cfg, script, source)
	if cmd.Restore != "" {
		repl.restore = cmd.Restore
	}
	return repl.Start()
}

type REPL struct {
	runner     *Runner
	rl         *readline.Instance
	sourceCode string
	restore    string
}

func NewREPL(cfg *Config, script *lang.Script, source string) *REPL {
	return &REPL{
		runner:     NewRunner(cfg, script),
		sourceCode: source,
	}
}

// completer implements readline.AutoCompleter
type completer struct{}

var replCommands = []string{
	"tick", "t",
	"step", "s", "n",
	"continue", "c",
	"state",
	"locals",
	"stacks",
	"dis",
	"source",
	"save",
	"load",
	"unblock",
	"stop",
	"restart", "r",
	"quit", "q",
	"help", "h",
}

func (c completer) Do(line []rune, pos int) (newLine [][]rune, length int) {
	input := string(line[:pos])
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, input) {
			newLine = append(newLine, []rune(cmd[len(input):]))
		}
	}
	return newLine, len(input)
}

func (r *REPL) printHelp() {
	help := `
Available Commands:
  tick, t [n]      Run n ticks with the configured quanta (default 1)
  step, s, n       Execute a single instruction
  continue, c      Run ticks until the script finishes or fails
  state            Dump the VM context
  locals           Show the locals that hold a value
  stacks           Show the value and handle stacks
  dis              Disassemble the script, marking the current instruction
  source           Display source code with line numbers
  save <file>      Write the VM context to an archive
  load <file>      Restore the VM context from an archive
  unblock          Force a blocking command to finish
  stop             Stop the script
  restart, r       Start the script again from the top
  help, h          Show this help message
  quit, q          Exit debugger

Tips:
  - Use Tab for command completion
  - Use Up/Down arrows for command history
`
	fmt.Println(help)
}

func (r *REPL) Start() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[32m⟩\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), ".agentvm_debugger_history"),
		HistoryLimit:    1000,
		AutoComplete:    completer{},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start debugger: %w", err)
	}
	r.rl = rl
	defer r.rl.Close()

	r.runner.vm.OnFrozen = r.askFrozen

	if r.restore != "" {
		if err := r.runner.Restore(r.restore); err != nil {
			return err
		}
	} else if err := r.runner.Start(); err != nil {
		return err
	}

	fmt.Println("\033[1;36mAgent VM Debugger\033[0m")
	fmt.Println("Type 'help' or 'h' for available commands")
	fmt.Println()
	r.printPosition()

	for {
		line, err := r.rl.Readline()
		if err != nil { // io.EOF, readline.ErrInterrupt
			return nil
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help", "h":
			r.printHelp()

		case "tick", "t":
			n := 1
			if len(args) > 1 {
				if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
					fmt.Printf("Invalid tick count: %s\n", args[1])
					continue
				}
			}
			for i := 0; i < n; i++ {
				if done := r.tick(r.runner.cfg.Run.Quanta); done {
					break
				}
			}
			r.printPosition()

		case "step", "s", "n":
			r.tick(1)
			r.printPosition()

		case "continue", "c":
			for i := 0; i < r.runner.cfg.Run.Ticks; i++ {
				if r.tick(r.runner.cfg.Run.Quanta) {
					break
				}
			}
			r.printPosition()

		case "state":
			snap := r.runner.vm.Snapshot()
			snap.Locals = nil
			fmt.Println(repr.String(snap, repr.Indent("  ")))

		case "locals":
			r.printLocals()

		case "stacks":
			snap := r.runner.vm.Snapshot()
			fmt.Printf("\033[1;32mValues:\033[0m  %v\n", snap.ValueStack)
			fmt.Printf("\033[1;32mHandles:\033[0m %v\n", snap.HandleStack)

		case "dis":
			r.disassemble()

		case "source":
			r.displaySource()

		case "save", "load":
			if len(args) < 2 {
				fmt.Printf("Usage: %s <file>\n", args[0])
				continue
			}
			if args[0] == "save" {
				err = r.runner.Save(args[1])
			} else {
				err = r.runner.Restore(args[1])
			}
			if err != nil {
				fmt.Printf("\033[31m%v\033[0m\n", err)
				continue
			}
			fmt.Printf("\033[32m%s done: %s\033[0m\n", args[0], args[1])
			r.printPosition()

		case "unblock":
			if !r.runner.vm.IsBlocking() {
				fmt.Println("Script is not blocking")
				continue
			}
			r.runner.vm.UnBlock()
			r.printPosition()

		case "stop":
			r.runner.vm.StopScriptExecuting()
			r.printPosition()

		case "restart", "r":
			if err := r.runner.Start(); err != nil {
				fmt.Printf("\033[31m%v\033[0m\n", err)
				continue
			}
			fmt.Println("Script restarted")
			r.printPosition()

		case "quit", "q":
			fmt.Println("\033[32mGoodbye!\033[0m")
			return nil

		default:
			fmt.Printf("\033[31mUnknown command: %s\033[0m\n", args[0])
		}
	}
}

// tick runs one UpdateVM call and reports whether the script can no longer
// make progress.
func (r *REPL) tick(quanta int) bool {
	if !r.runner.vm.IsRunning() {
		fmt.Println("\033[31mScript has finished execution\033[0m")
		return true
	}
	finished, err := r.runner.Step(quanta)
	if err != nil {
		fmt.Printf("\033[31m%v\033[0m\n", r.runner.report(err))
		return true
	}
	return finished
}

func (r *REPL) askFrozen(vm *lang.VM) lang.FrozenAction {
	fmt.Printf("\033[1;33mScript %q has run %d instructions without yielding (ip %d)\033[0m\n",
		vm.Script().Name, vm.FrozenThreshold, vm.CommandIP())
	r.rl.SetPrompt("[r]etry, [a]bort or [i]gnore? ")
	defer r.rl.SetPrompt("\033[32m⟩\033[0m ")
	for {
		line, err := r.rl.Readline()
		if err != nil {
			return lang.FrozenAbort
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry":
			return lang.FrozenRetry
		case "a", "abort":
			return lang.FrozenAbort
		case "i", "ignore":
			return lang.FrozenIgnore
		}
	}
}

func (r *REPL) printPosition() {
	vm := r.runner.vm
	if !vm.IsRunning() {
		fmt.Println("\033[31mScript finished execution\033[0m")
		return
	}
	script := vm.Script()
	fmt.Printf("\033[1;34mLine %d\033[0m, \033[1;35mIP: %d\033[0m (\033[1;33m%s\033[0m, tick %d, %d executed)\n",
		script.SourceOffset(vm.IP()), vm.IP(), vm.State(), r.runner.world.Tick, vm.Executed())
}

func (r *REPL) printLocals() {
	vm := r.runner.vm
	if !vm.IsRunning() {
		fmt.Println("No script is running")
		return
	}
	empty := true
	for i := 0; i < lang.LocalCount; i++ {
		v, err := vm.Local(i)
		if err != nil {
			break
		}
		if *v == (lang.Variable{}) {
			continue
		}
		empty = false
		fmt.Printf("  \033[1;36mVA%02d\033[0m %-7s %s\n", i, v.Type(), v.Text())
	}
	if empty {
		fmt.Println("  (all locals are zero)")
	}
}

func (r *REPL) disassemble() {
	instructions, err := lang.NewDisassembler(table).Decode(r.runner.script)
	current := r.runner.vm.CommandIP()
	for _, in := range instructions {
		marker := "  "
		if r.runner.vm.IsRunning() && in.Addr == current {
			marker = "\033[1;33m→\033[0m "
		}
		fmt.Printf("%s\033[90m%04d:\033[0m \033[1;33m%-4s\033[0m %s\n", marker, in.Addr, in.Name, strings.Join(in.Operands, " "))
	}
	if err != nil {
		fmt.Printf("\033[31m%v\033[0m\n", err)
	}
}

func (r *REPL) displaySource() {
	if r.sourceCode == "" {
		fmt.Println("\033[31mNo source code loaded\033[0m")
		return
	}
	current := 0
	if vm := r.runner.vm; vm.IsRunning() {
		current = vm.Script().SourceOffset(vm.CommandIP())
	}
	lines := strings.Split(r.sourceCode, "\n")
	width := len(strconv.Itoa(len(lines)))
	for i, line := range lines {
		lineNum := i + 1
		if lineNum == current {
			fmt.Printf("\033[90m%*d │\033[0m\033[43m %s \033[0m\n", width, lineNum, line)
		} else {
			fmt.Printf("\033[90m%*d │\033[0m %s\n", width, lineNum, line)
		}
	}
}

func init() {
	flagsparser.AddCommand(
		"debug",
		"Step through a script interactively",
		"Starts the script in a readline debugger where it can be ticked, stepped, inspected, saved and restored",
		&debugCommand,
	)
}
