// Command gtimer inspects and drives the memory-mapped Arm Generic Timer of
// a board, either through /dev/mem or against a simulated timer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/tinyrange/gtimer/internal/board"
)

const usage = `usage: gtimer [flags] <command> [args]

commands:
  info             dump the counter and every frame
  wait DURATION    busy-wait on a frame timer
  arm DURATION     program a timer interrupt and report when it fires
  dtb -o FILE      write an arm,armv7-timer-mem device tree blob
  board            print the board description as YAML
  peek ADDR        read a register (-size 4|8)
  poke ADDR VALUE  write a register (-size 4|8)

flags:
`

type gtimerCmd struct {
	boardPath string
	simulate  bool
	devMem    string
	frame     int
	virtual   bool
	enable    bool
	verbose   bool

	out io.Writer
}

func (c *gtimerCmd) Main(args []string) error {
	fs := flag.NewFlagSet("gtimer", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&c.boardPath, "board", "", "YAML board description (default: built-in board)")
	fs.BoolVar(&c.simulate, "sim", false, "run against a simulated timer instead of /dev/mem")
	fs.StringVar(&c.devMem, "devmem", "", "device memory file to map (default /dev/mem)")
	fs.IntVar(&c.frame, "frame", 0, "CNTBase frame used by wait and arm")
	fs.BoolVar(&c.virtual, "virtual", false, "use the virtual timer instead of the physical timer")
	fs.BoolVar(&c.enable, "enable", false, "enable the system counter if it is stopped")
	fs.BoolVar(&c.verbose, "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	b := board.Default()
	if c.boardPath != "" {
		var err error
		if b, err = board.Load(c.boardPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "board":
		data, err := b.Marshal()
		if err != nil {
			return fmt.Errorf("encode board: %w", err)
		}
		_, err = c.out.Write(data)
		return err
	case "dtb":
		return c.writeDeviceTree(b, rest)
	case "info":
		return c.withSystem(b, func(s *system) error { return c.info(s) })
	case "wait":
		d, err := durationArg(cmd, rest)
		if err != nil {
			return err
		}
		return c.withSystem(b, func(s *system) error { return c.wait(ctx, s, d) })
	case "arm":
		d, err := durationArg(cmd, rest)
		if err != nil {
			return err
		}
		return c.withSystem(b, func(s *system) error { return c.arm(ctx, s, d) })
	case "peek":
		return c.withSystem(b, func(s *system) error { return c.peek(s, rest) })
	case "poke":
		return c.withSystem(b, func(s *system) error { return c.poke(s, rest) })
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *gtimerCmd) withSystem(b *board.Board, fn func(s *system) error) error {
	s, err := openSystem(b, systemOptions{
		simulate: c.simulate,
		devMem:   c.devMem,
		enable:   c.enable || c.simulate,
	})
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.Close(); err != nil {
		slog.Warn("closing frames", "error", err)
	}
	return runErr
}

func durationArg(cmd string, args []string) (time.Duration, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected one DURATION argument", cmd)
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", cmd)
	}
	return d, nil
}

func (c *gtimerCmd) writeDeviceTree(b *board.Board, args []string) error {
	fs := flag.NewFlagSet("dtb", flag.ContinueOnError)
	output := fs.String("o", "", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("dtb: -o is required")
	}

	blob, err := b.DeviceTreeBlob()
	if err != nil {
		return fmt.Errorf("dtb: %w", err)
	}
	if err := os.WriteFile(*output, blob, 0o644); err != nil {
		return fmt.Errorf("dtb: write %s: %w", *output, err)
	}
	slog.Info("wrote device tree", "path", *output, "size", len(blob))
	return nil
}

func main() {
	c := &gtimerCmd{out: os.Stdout}
	if err := c.Main(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "gtimer: %v\n", err)
		os.Exit(1)
	}
}
