package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hadydotai/agentvm/lang"
	"hadydotai/agentvm/logging"
)

// ScriptExt marks compiled script files; anything else is treated as source.
const ScriptExt = ".avm"

type CompileCommand struct {
	Output       string `short:"o" long:"output" description:"Output file and path of the compiled script, defaults to the input with a .avm extension"`
	DumpBytecode bool   `short:"d" long:"dump" description:"Dump a listing of the bytecode for inspection"`
	StepDebug    bool   `short:"s" long:"stepdebug" description:"Start execution in the step debugger"`
	Run          bool   `short:"r" long:"run" description:"Run the compiled script"`
	Args         struct {
		Files []string `positional-arg-name:"FILES" required:"yes"`
	} `positional-args:"yes"`
}

var compileCommand CompileCommand

func (cmd *CompileCommand) Execute(args []string) error {
	for _, sourceFile := range cmd.Args.Files {
		output := cmd.Output
		if output == "" || len(cmd.Args.Files) > 1 {
			output = strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ScriptExt
		}
		logging.Log(logging.LogLevelInfo, "Compiling file", "file-input", sourceFile, "file-output", output)

		script, err := assembleFile(sourceFile)
		if err != nil {
			return err
		}

		logging.Log(logging.LogLevelDebug, "Committing output to disk", "bytes", script.Len())
		if err := lang.SaveScript(output, table, script); err != nil {
			return fmt.Errorf("failed to write compiled script to disk: %w", err)
		}
		logging.Log(logging.LogLevelInfo, "Successfully compiled", "file-input", sourceFile, "file-output", output)

		if cmd.DumpBytecode {
			if err := lang.NewDisassembler(table).Dump(os.Stdout, script); err != nil {
				return err
			}
		}

		if cmd.Run || cmd.StepDebug {
			cfg, err := LoadConfig(opts.Config)
			if err != nil {
				return err
			}
			if cmd.StepDebug {
				source, _ := os.ReadFile(sourceFile)
				return NewREPL(cfg, script, string(source)).Start()
			}
			runner := NewRunner(cfg, script)
			if err := runner.Start(); err != nil {
				return err
			}
			if err := runner.Run(cfg.Run.Ticks); err != nil {
				return err
			}
		}
	}
	return nil
}

func assembleFile(sourceFile string) (*lang.Script, error) {
	source, err := os.ReadFile(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", sourceFile, err)
	}
	logging.Log(logging.LogLevelDebug, "Assembly started", "file", sourceFile)
	return lang.Assemble(table, scriptName(sourceFile), string(source))
}

// loadScriptFile accepts either a compiled script or assembly source.
func loadScriptFile(path string) (*lang.Script, string, error) {
	if filepath.Ext(path) == ScriptExt {
		script, err := lang.LoadScript(path, table)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load compiled script %s: %w", path, err)
		}
		return script, "", nil
	}
	script, err := assembleFile(path)
	if err != nil {
		return nil, "", err
	}
	source, _ := os.ReadFile(path)
	return script, string(source), nil
}

func scriptName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func init() {
	flagsparser.AddCommand(
		"compile",
		"Compile assembly source into a script file",
		"Assembles each source file against the built-in command table and writes a .avm script file next to it, or to --output for a single file",
		&compileCommand,
	)
}
