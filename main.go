package main

import (
	"os"

	"hadydotai/agentvm/lang"
	"hadydotai/agentvm/logging"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	LogLevel logging.LogLevel `short:"l" long:"loglevel" description:"Set the level of logging" choice:"none" choice:"info" choice:"debug" default:"info"`
	LogFile  string           `long:"logfile" description:"Also append debug level logs to this file"`
	Config   string           `short:"c" long:"config" description:"Path to an agentvm.toml run configuration"`
}

var (
	opts        Options
	flagsparser = flags.NewParser(&opts, flags.Default)

	// table is shared by every subcommand; scripts are assembled against and
	// executed through the same opcode layout.
	table = lang.NewDispatchTable(lang.Builtins())
)

func main() {
	flagsparser.CommandHandler = func(command flags.Commander, args []string) error {
		if err := logging.Setup(opts.LogLevel, opts.LogFile); err != nil {
			return err
		}
		defer logging.Close()
		return command.Execute(args)
	}

	if _, err := flagsparser.Parse(); err != nil {
		switch flagsErr := err.(type) {
		case flags.ErrorType:
			if flagsErr == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		default:
			os.Exit(1)
		}
	}
}
