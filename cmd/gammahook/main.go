package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"

	"gitlab.com/stephen-fox/gammahook/config"
	"gitlab.com/stephen-fox/gammahook/exprocess"
	"gitlab.com/stephen-fox/gammahook/hook"
	"gitlab.com/stephen-fox/gammahook/logging"
	"gitlab.com/stephen-fox/gammahook/patch"
	"gitlab.com/stephen-fox/gammahook/process"
	"gitlab.com/stephen-fox/gammahook/selector"
)

const (
	configArg       = "c"
	pidArg          = "pid"
	nameArg         = "name"
	pathArg         = "path"
	thumbprintArg   = "thumbprint"
	hostArg         = "host"
	portArg         = "port"
	companionDirArg = "companion-dir"
	stateArg        = "state"
	foregroundArg   = "f"
	verboseArg      = "v"
	helpArg         = "h"

	startCmd  = "start"
	stopCmd   = "stop"
	statusCmd = "status"

	defaultConfigPath = "gammahook.toml"

	appName = "gammahook"
	usage   = appName + `
DESCRIPTION
  Redirects a process's calls to ` + hook.PatchModule + `!` + hook.PatchSymbol + ` into a
  companion module (hook32.dll or hook64.dll) that forwards each colour
  temperature change to an HTTP listener.

  By default the genuine f.lux executable is hooked and its requests are
  sent to 127.0.0.1:3000. Settings are read from a TOML file and may be
  overridden by the options below. When any of -` + pidArg + `, -` + nameArg + `, -` + pathArg + ` or
  -` + thumbprintArg + ` are given, they replace the file's [target] section.

COMMANDS
  ` + startCmd + `   Install the hook and record it in the state file. With -` + foregroundArg + `,
          wait for an interrupt or for the process to exit, then
          uninstall it.
  ` + stopCmd + `    Uninstall the hook recorded in the state file.
  ` + statusCmd + `  Report whether the recorded hook is still in place. Exits
          non-zero if it is not.

USAGE
  ` + appName + ` [options] ` + startCmd + `|` + stopCmd + `|` + statusCmd + `

EXAMPLES:
  Hook f.lux and send its requests to port 8080:
    $ ` + appName + ` -` + portArg + ` 8080 ` + startCmd + `

  Hook a specific process until Ctrl+C is pressed:
    $ ` + appName + ` -` + pidArg + ` 4312 -` + foregroundArg + ` ` + startCmd + `

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	configPath := flag.String(
		configArg,
		defaultConfigPath,
		"The TOML configuration file. Defaults are used if it does not exist")

	pid := flag.Uint(
		pidArg,
		0,
		"The id of the process to hook")

	name := flag.String(
		nameArg,
		"",
		"The executable name of the process to hook ('.exe' is optional)")

	path := flag.String(
		pathArg,
		"",
		"The executable path of the process to hook")

	thumbprint := flag.String(
		thumbprintArg,
		"",
		"The SHA-1 thumbprint of the certificate that must have signed the process's executable")

	host := flag.String(
		hostArg,
		"",
		"The host the companion module sends requests to")

	port := flag.Uint(
		portArg,
		0,
		"The port the companion module sends requests to")

	companionDir := flag.String(
		companionDirArg,
		"",
		"The directory containing hook32.dll and hook64.dll")

	statePath := flag.String(
		stateArg,
		"",
		"The file that records the installed hook")

	foreground := flag.Bool(
		foregroundArg,
		false,
		"Stay running after '"+startCmd+"' and uninstall the hook on interrupt")

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log each step")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() != 1 {
		return fmt.Errorf("please specify a command ('%s', '%s', '%s')",
			startCmd, stopCmd, statusCmd)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	targetReset := false

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case pidArg, nameArg, pathArg, thumbprintArg:
			if !targetReset {
				targetReset = true
				cfg.Target = config.Target{}
			}
		}

		switch f.Name {
		case pidArg:
			cfg.Target.PID = uint32(*pid)
		case nameArg:
			cfg.Target.Name = *name
		case pathArg:
			cfg.Target.Path = *path
		case thumbprintArg:
			cfg.Target.Thumbprint = *thumbprint
		case hostArg:
			cfg.Destination.Host = *host
		case portArg:
			cfg.Destination.Port = uint16(*port)
		case companionDirArg:
			cfg.Companion.Dir = *companionDir
		case stateArg:
			cfg.State.File = *statePath
		case verboseArg:
			cfg.Log.Verbose = *verbose
		}
	})

	if *port > 0xffff {
		return fmt.Errorf("-%s must be between 1 and 65535 - got %d", portArg, *port)
	}

	if *pid > 0xffffffff {
		return fmt.Errorf("-%s is out of range - got %d", pidArg, *pid)
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	if cfg.Log.File != "" {
		logFile, err := logging.New(logging.Config{
			File:      cfg.Log.File,
			MaxSizeMB: cfg.Log.MaxSizeMB,
			OptMirror: os.Stderr,
		})
		if err != nil {
			return err
		}
		defer logFile.Close()

		log.SetOutput(logFile)
	}

	var logger *log.Logger
	if cfg.Log.Verbose {
		logger = log.New(log.Writer(), "["+appName+"] ", log.LstdFlags)
	}

	platform, err := process.DefaultPlatform()
	if err != nil {
		return err
	}

	ctx, cancelFn := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelFn()

	application := &app{
		cfg:      cfg,
		platform: platform,
		resolver: process.NewSymbolResolver(process.SymbolResolverConfig{
			Platform:  platform,
			OptLogger: logger,
		}),
		logger: logger,
	}

	switch cmd := flag.Arg(0); cmd {
	case startCmd:
		return application.start(ctx, *foreground)
	case stopCmd:
		return application.stop(ctx)
	case statusCmd:
		return application.status(ctx)
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

type app struct {
	cfg      config.Config
	platform process.Platform
	resolver *process.SymbolResolver
	logger   *log.Logger
}

func (o *app) open(pid uint32) (*process.Process, error) {
	return process.Open(pid, process.OpenConfig{
		Platform:    o.platform,
		OptResolver: o.resolver,
		OptLogger:   o.logger,
	})
}

func (o *app) newHook() *hook.Hook {
	return hook.New(hook.Options{
		Companion: o.cfg.HookCompanion(),
		OptLogger: o.logger,
	})
}

func (o *app) start(ctx context.Context, foreground bool) error {
	_, err := os.Stat(o.cfg.State.File)
	if err == nil {
		return fmt.Errorf("a hook is already recorded in %q - run '%s' first",
			o.cfg.State.File, stopCmd)
	}

	pid, err := o.cfg.Selector().Resolve(ctx, selector.Config{
		OptLogger: o.logger,
	})
	if err != nil {
		return err
	}

	p, err := o.open(pid)
	if err != nil {
		return err
	}

	h := o.newHook()

	err = h.Install(p, o.cfg.Hook())
	if err != nil {
		return errors.Join(fmt.Errorf("failed to install hook in process %d - %w", pid, err), p.Close())
	}

	state, err := h.Snapshot()
	if err == nil {
		err = hook.SaveState(o.cfg.State.File, state)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("failed to record hook - %w", err), h.Uninstall())
	}

	log.Printf("hooked %s!%s in process %d (%d-bit) - requests go to %s",
		hook.PatchModule, hook.PatchSymbol, pid, p.Bits(), o.cfg.Hook())

	if !foreground {
		// The process is left open so that nothing is ejected. The
		// handle is closed when this program exits.
		return nil
	}

	log.Printf("waiting for interrupt or for process %d to exit", pid)

	exitCtx, cancelFn := exprocess.ExitCtx(ctx, exprocess.ExitCtxConfig{
		PID:       pid,
		OptLogger: o.logger,
	})
	defer cancelFn()

	<-exitCtx.Done()

	err = h.Uninstall()
	if err != nil {
		return fmt.Errorf("failed to uninstall hook - %w", err)
	}

	log.Printf("unhooked process %d", pid)

	return os.Remove(o.cfg.State.File)
}

func (o *app) loadState() (hook.State, error) {
	state, err := hook.LoadState(o.cfg.State.File)
	if errors.Is(err, fs.ErrNotExist) {
		return hook.State{}, fmt.Errorf("no hook is recorded in %q", o.cfg.State.File)
	}

	return state, err
}

// openRecorded opens the process named by state. It returns a nil
// Process if the process no longer exists.
func (o *app) openRecorded(ctx context.Context, state hook.State) (*process.Process, error) {
	p, err := o.open(state.PID)
	if err == nil {
		return p, nil
	}

	exists, existsErr := selector.Exists(ctx, state.PID)
	if existsErr == nil && !exists {
		return nil, nil
	}

	return nil, err
}

func (o *app) stop(ctx context.Context) error {
	state, err := o.loadState()
	if err != nil {
		return err
	}

	p, err := o.openRecorded(ctx, state)
	if err != nil {
		return err
	}

	if p == nil {
		log.Printf("process %d no longer exists - forgetting hook", state.PID)
		return os.Remove(o.cfg.State.File)
	}

	h := o.newHook()

	err = h.Resume(p, state)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to resume hook in process %d - %w", state.PID, err), p.Close())
	}

	err = h.Uninstall()
	if err != nil {
		return fmt.Errorf("failed to uninstall hook in process %d - %w", state.PID, err)
	}

	log.Printf("unhooked process %d", state.PID)

	return os.Remove(o.cfg.State.File)
}

// status inspects the recorded hook without adopting the companion,
// so closing the process does not eject it.
func (o *app) status(ctx context.Context) error {
	state, err := o.loadState()
	if err != nil {
		return err
	}

	fmt.Printf("process:     %d (%d-bit)\n", state.PID, state.Bits)
	fmt.Printf("destination: %s\n", hook.Config{Host: state.Host, Port: state.Port})
	fmt.Printf("installed:   %s\n", state.InstalledAt.Format("2006-01-02 15:04:05"))

	p, err := o.openRecorded(ctx, state)
	if err != nil {
		return err
	}

	if p == nil {
		fmt.Println("alive:       no")
		return fmt.Errorf("process %d no longer exists - run '%s' to forget it", state.PID, stopCmd)
	}
	defer p.Close()

	alive, err := p.IsAlive()
	if err != nil {
		return err
	}

	fmt.Printf("alive:       %s\n", yesNo(alive))

	if !alive {
		return fmt.Errorf("process %d has exited - run '%s' to forget it", state.PID, stopCmd)
	}

	_, err = p.ModuleByPath(state.Companion)
	switch {
	case err == nil:
		fmt.Printf("companion:   %s\n", state.Companion)
	case errors.Is(err, process.ErrModuleNotFound):
		fmt.Printf("companion:   not loaded\n")
	default:
		return err
	}

	record, err := state.Record()
	if err != nil {
		return err
	}

	applied, err := patch.Resume(p, record)
	if err != nil {
		return err
	}

	patched, err := applied.Verify()
	if err != nil {
		return err
	}

	fmt.Printf("patched:     %s (%s!%s at %s)\n", yesNo(patched), hook.PatchModule, hook.PatchSymbol, state.Address)

	if o.logger != nil {
		description, err := patch.Describe(record, state.Bits)
		if err == nil {
			o.logger.Printf("patch site:\n%s", description)
		}
	}

	if !patched {
		return fmt.Errorf("%s!%s in process %d no longer jumps to the companion",
			hook.PatchModule, hook.PatchSymbol, state.PID)
	}

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
