// Tern CLI - assembles, stores, serves and runs Tern bytecode programs
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tern/config"
	"github.com/chazu/tern/vm"
)

// exitError carries a program's integer result out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var (
	configPath string
	verbosity  int
	logFile    string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tern",
		Short:         "Tern bytecode runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "configuration file (default: nearest tern.toml or tern.yaml)")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity")
	flags.StringVar(&logFile, "log", "", "log file (default: stderr)")

	root.AddCommand(
		newRunCommand(),
		newAsmCommand(),
		newDisCommand(),
		newStoreCommand(),
		newServeCommand(),
		newRemoteCommand(),
	)
	return root
}

func main() {
	err := newRootCommand().Execute()
	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		reportFatal(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the nearest configuration file.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Resolve(".")
}

func configureLogging() {
	c, err := loadConfig()
	v, path := verbosity, logFile
	if err == nil {
		v += c.Log.Verbosity
		if path == "" {
			path = c.Log.File
		}
	}
	if path == "" {
		commonlog.Configure(v, nil)
		return
	}
	commonlog.Configure(v, &path)
}

// reportFatal prints err, plus the frame trace of a fault, colouring the
// prefix when out is a terminal.
func reportFatal(out *os.File, err error) {
	prefix := "fatal:"
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		prefix = "\x1b[1;31mfatal:\x1b[0m"
	}
	fmt.Fprintf(out, "%s %v\n", prefix, err)
	var f *vm.Fault
	if errors.As(err, &f) {
		writeTrace(out, f.Trace)
	}
}

func writeTrace(w io.Writer, trace []string) {
	for _, frame := range trace {
		fmt.Fprintf(w, "    at %s\n", frame)
	}
}
