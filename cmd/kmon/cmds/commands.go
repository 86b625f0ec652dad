package cmds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/go-delve/kmon/pkg/config"
	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/proc"
	"github.com/go-delve/kmon/pkg/symtab"
	"github.com/go-delve/kmon/pkg/terminal"
	"github.com/go-delve/kmon/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// kernelFile overrides the kernel image of the machine description.
	kernelFile string
	// physmemFile overrides the raw memory image of the machine description.
	physmemFile string
	// memory overrides the amount of physical memory of the machine description.
	memory sizeValue
	// usageDir is where the docs command writes the command line reference.
	usageDir string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kmonCommandLongDesc = `kmon is the JOS kernel monitor.

It loads the description of a machine stopped inside the kernel (physical
memory, page directory, registers and symbols) and lets you inspect it with
the commands of the kernel monitor: kerninfo, backtrace, showmappings,
setperms and dumpcontents.

Type 'help' at the prompt for the list of commands.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main kmon root command.
	rootCommand = &cobra.Command{
		Use:   "kmon [flags] <machine.yml>",
		Short: "kmon is an interactive monitor for JOS kernels.",
		Long:  kmonCommandLongDesc,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0], conf))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable monitor logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kmon help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kmon help log').")

	rootCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the monitor before the first prompt.")
	rootCommand.Flags().StringVar(&kernelFile, "kernel", "", "Kernel ELF image, overrides the one named by the machine description.")
	rootCommand.Flags().StringVar(&physmemFile, "physmem", "", "Raw physical memory image, overrides the one named by the machine description.")
	rootCommand.Flags().Var(&memory, "memory", "Amount of physical memory (for example 128M), overrides the one in the machine description.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "JOS Kernel Monitor\n%s\n", version.KmonVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	// 'addr2line' subcommand.
	addr2lineCommand := &cobra.Command{
		Use:   "addr2line <kernel-elf> <addr>...",
		Short: "Translates kernel addresses into file names and line numbers.",
		Long: `Translates kernel addresses into file names and line numbers.

Symbols are read from the STABS or DWARF debug information of the kernel
image. Addresses are decimal or 0x prefixed hexadecimal.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("you must provide a kernel image and at least one address")
			}
			return nil
		},
		RunE: addr2lineCmd,
	}
	rootCommand.AddCommand(addr2lineCommand)

	// 'docs' subcommand.
	docsCommand := &cobra.Command{
		Use:   "docs",
		Short: "Prints the reference of the monitor commands in markdown.",
		Long: `Prints the reference of the monitor commands in markdown.

With --usage-dir the reference of the command line is also written to the
given directory, one markdown file per command.`,
		RunE: docsCmd,
	}
	docsCommand.Flags().StringVar(&usageDir, "usage-dir", "", "Output directory for the command line reference.")
	rootCommand.AddCommand(docsCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	monitor		Log monitor commands and their failures
	mmu		Log page table walks and permission changes
	symbols		Log symbol table loading
	target		Log construction of the machine from its description

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadDescription reads the machine description at path and applies the
// overrides given on the command line.
func loadDescription(path string) (*proc.Description, error) {
	d, err := proc.LoadDescription(path)
	if err != nil {
		return nil, err
	}
	if kernelFile != "" {
		if d.Kernel, err = filepath.Abs(kernelFile); err != nil {
			return nil, err
		}
	}
	if physmemFile != "" {
		if d.PhysMem, err = filepath.Abs(physmemFile); err != nil {
			return nil, err
		}
	}
	if memory.npages != 0 {
		d.NPages = memory.npages
	}
	return d, nil
}

func execute(path string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	d, err := loadDescription(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	target, err := proc.NewFromDescription(d, conf.SymbolCacheSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load machine %s: %v\n", path, err)
		return 1
	}

	term := terminal.New(target, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}

func addr2lineCmd(cmd *cobra.Command, args []string) error {
	table, err := symtab.LoadELF(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, arg := range args[1:] {
		pc, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid address %q", arg)
		}
		sym, err := table.LookupPC(uint32(pc))
		if err != nil {
			fmt.Fprintf(out, "0x%08x ??:0\n", pc)
			continue
		}
		fmt.Fprintf(out, "0x%08x %s:%d: %s+%d\n", pc, sym.File, sym.Line, sym.Name(), uint32(pc)-sym.FnAddr)
	}
	return nil
}

func docsCmd(cmd *cobra.Command, args []string) error {
	terminal.MonitorCommands(nil).WriteMarkdown(cmd.OutOrStdout())
	if usageDir == "" {
		return nil
	}
	if err := os.MkdirAll(usageDir, 0700); err != nil {
		return err
	}
	return doc.GenMarkdownTree(cmd.Root(), usageDir)
}
