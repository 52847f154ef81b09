// Command-line interface to a labelset server and its label multiset pyramid.
// Provides commands to serve the HTTP API, build levels and inspect blocks.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/server"
	"github.com/janelia-flyem/labelset/storage"
)

const version = "0.1.0"

// ConfigEnv names the environment variable, possibly set in a .env file, giving the
// configuration used when a command omits it.
const ConfigEnv = "LABELSET_CONFIG"

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Log debug messages if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
labelset serves multi-scale label multiset blocks computed from a raw label volume

Usage: labelset [options] <command>

      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve  [config]
	build  [config] <level> [t=0] [setup=0]
	block  [config] <level> <x_y_z> [t=0] [setup=0] [size=<nx_ny_nz>]

The config is a TOML file and defaults to the %s environment variable, which may be
set in a .env file in the current directory.
`

var usage = func() {
	fmt.Printf(helpMessage, ConfigEnv)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		dvid.Verbose = true
		dvid.SetLogMode(dvid.DebugMode)
	}
	if err := godotenv.Load(); err == nil {
		dvid.Infof("Loaded environment from .env file\n")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}
	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := DoCommand(ctx, dvid.Command(flag.Args()))
	dvid.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd dvid.Command) error {
	switch cmd.Name() {
	case "":
		return fmt.Errorf("blank command")
	case "about":
		fmt.Printf("labelset %s\n\nStorage engines:\n%s\n", version, storage.EnginesAvailable())
		return nil
	case "serve":
		return DoServe(ctx, cmd)
	case "build":
		return DoBuild(ctx, cmd)
	case "block":
		return DoBlock(ctx, cmd)
	default:
		return fmt.Errorf("unknown command %q, try 'labelset help'", cmd.Name())
	}
}

// configArgs splits positional arguments into the configuration path and the rest.  The
// first argument is a configuration if it names a TOML file.
func configArgs(cmd dvid.Command) (string, []string, error) {
	args := cmd.Arguments()
	if len(args) > 0 && strings.HasSuffix(args[0], ".toml") {
		return args[0], args[1:], nil
	}
	if filename := os.Getenv(ConfigEnv); filename != "" {
		return filename, args, nil
	}
	return "", nil, fmt.Errorf("%s needs a TOML configuration file or %s set", cmd.Name(), ConfigEnv)
}

func openService(ctx context.Context, filename string) (*server.Service, *server.Config, error) {
	config, err := server.LoadConfig(filename)
	if err != nil {
		return nil, nil, err
	}
	config.Logging.SetLogger()
	s, err := server.NewService(ctx, config)
	if err != nil {
		return nil, nil, err
	}
	return s, config, nil
}

func timeAndSetup(cmd dvid.Command) (t, setup int, err error) {
	if t, err = cmd.IntSetting("t", 0); err != nil {
		return
	}
	setup, err = cmd.IntSetting("setup", 0)
	return
}

// DoServe runs the labelset server until interrupted.
func DoServe(ctx context.Context, cmd dvid.Command) error {
	filename, _, err := configArgs(cmd)
	if err != nil {
		return err
	}
	s, config, err := openService(ctx, filename)
	if err != nil {
		return err
	}
	defer s.Close()

	ln, err := s.Listen()
	if err != nil {
		return err
	}
	dvid.Infof("Serving %s (server %s, note %q)\n", config.Host(), s.ID(), config.Server.Note)
	return s.Serve(ctx, ln)
}

// DoBuild computes and caches every block of a level.
func DoBuild(ctx context.Context, cmd dvid.Command) error {
	filename, args, err := configArgs(cmd)
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("build needs a level")
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad level %q", args[0])
	}
	t, setup, err := timeAndSetup(cmd)
	if err != nil {
		return err
	}
	s, _, err := openService(ctx, filename)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Loader().BuildLevel(ctx, t, setup, level)
	if err != nil {
		return err
	}
	fmt.Printf("Built %s\n", stats)
	return nil
}

// DoBlock prints the labels of a block.
func DoBlock(ctx context.Context, cmd dvid.Command) error {
	filename, args, err := configArgs(cmd)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("block needs a level and a voxel coordinate x_y_z")
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad level %q", args[0])
	}
	min, err := dvid.StringToPoint3d(args[1], "_")
	if err != nil {
		return err
	}
	t, setup, err := timeAndSetup(cmd)
	if err != nil {
		return err
	}
	s, _, err := openService(ctx, filename)
	if err != nil {
		return err
	}
	defer s.Close()

	size := s.Loader().BlockSize()
	if sizeStr, found := cmd.Setting("size"); found {
		if size, err = dvid.StringToPoint3d(sizeStr, "_"); err != nil {
			return err
		}
	}
	block, err := s.Loader().LoadBlock(ctx, t, setup, level, size, min)
	if err != nil {
		return err
	}
	data, err := block.MarshalBinary()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s serialized\n", block, humanize.Bytes(uint64(len(data))))
	counts := block.Counts()
	it := block.Labels().Iterator()
	for it.HasNext() {
		label := it.Next()
		fmt.Printf("  %d: %s\n", label, humanize.Comma(counts[label]))
	}
	return nil
}
