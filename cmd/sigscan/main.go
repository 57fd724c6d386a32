// Command sigscan resolves the hook target catalog against a server or game
// module on disk and prints where each target was found. It is used to
// check signatures against a new server build before deploying.
package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dshills/gamehook/internal/config"
	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/intercept"
	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/scan"
)

// Version information (set via ldflags during build).
var version = "dev"

type options struct {
	binary     string
	game       bool
	configPath string
	logLevel   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, code, ok := parseFlags(args, stderr)
	if !ok {
		return code
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	lc := logging.DefaultConfig()
	lc.Prefix = "sigscan"
	lc.Output = stderr
	lc.Level = logging.ParseLevel(opts.logLevel)
	log := logging.New(lc)

	buf, mod, err := loadImage(opts.binary)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	targets := intercept.EngineTargets
	if opts.game {
		targets = intercept.GameTargets
	}
	sigs, err := intercept.Signatures(targets, cfg.Scan.Signatures)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	found := scan.NewResolved()
	resolveErr := scan.NewResolver(buf, cfg.Required(), log).Resolve(mod, sigs, found)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tADDRESS\tREQUIRED")
	for _, t := range targets {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", t.Name, describe(buf, found, t), cfg.Required().IsRequired(t.Name))
	}
	_ = tw.Flush()

	if resolveErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", resolveErr)
		return 1
	}
	return 0
}

func describe(r memory.Region, found *scan.Resolved, t intercept.Target) string {
	addr, ok := found.Lookup(t.Name)
	if !ok {
		return "missing"
	}
	if !t.Data {
		return fmt.Sprintf("%#x", addr)
	}
	ref, err := detour.RIPTarget(r, addr+uintptr(t.Ref))
	if err != nil {
		return fmt.Sprintf("%#x (bad reference: %v)", addr, err)
	}
	return fmt.Sprintf("%#x -> %#x", addr, ref)
}

// loadImage maps the executable segments of an ELF file at their virtual
// addresses so the resolver sees the same layout the loader would produce
// at base zero.
func loadImage(path string) (*memory.Buffer, memory.Module, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, memory.Module{}, err
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, memory.Module{}, fmt.Errorf("%s: unsupported machine %v", path, f.Machine)
	}

	buf := memory.NewBuffer()
	mod := memory.Module{Name: filepath.Base(path), Path: path}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 || prog.Memsz == 0 {
			continue
		}
		start := uintptr(prog.Vaddr) &^ (memory.PageSize - 1)
		lead := uintptr(prog.Vaddr) - start
		data := make([]byte, lead+uintptr(prog.Memsz))
		if _, err := prog.ReadAt(data[lead:lead+uintptr(prog.Filesz)], 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, memory.Module{}, fmt.Errorf("read segment at %#x: %w", prog.Vaddr, err)
		}
		if err := buf.Map(start, data, memory.ProtRX, path); err != nil {
			return nil, memory.Module{}, err
		}
		m := memory.Mapping{Start: start, End: start + uintptr(len(data)), Prot: memory.ProtRX, Path: path}
		if len(mod.Mappings) == 0 || m.Start < mod.Base {
			mod.Base = m.Start
		}
		if m.End > mod.End {
			mod.End = m.End
		}
		mod.Mappings = append(mod.Mappings, m)
	}
	if len(mod.Mappings) == 0 {
		return nil, memory.Module{}, fmt.Errorf("%s: no executable segments", path)
	}
	return buf, mod, nil
}

func parseFlags(args []string, stderr io.Writer) (options, int, bool) {
	var opts options
	var showVersion bool

	fs := flag.NewFlagSet("sigscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.binary, "binary", "", "Path to the server executable or game module")
	fs.BoolVar(&opts.game, "game", false, "Scan for the game module targets")
	fs.StringVar(&opts.configPath, "config", "", "Configuration file with signature overrides")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "sigscan - resolve hook targets in a module on disk\n\n")
		fmt.Fprintf(stderr, "Usage: sigscan -binary <file> [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  sigscan -binary qzeroded.x64\n")
		fmt.Fprintf(stderr, "  sigscan -binary baseq3/qagamex64.so -game\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, 0, false
		}
		return opts, 2, false
	}
	if showVersion {
		fmt.Fprintf(stderr, "sigscan %s\n", version)
		return opts, 0, false
	}
	if opts.binary == "" {
		fs.Usage()
		return opts, 2, false
	}
	return opts, 0, true
}
