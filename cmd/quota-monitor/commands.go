package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/config"
	"github.com/0xmhha/quota-monitor/pkg/display"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/limits"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/monitor"
)

// Terminal control sequences for the live view.
const (
	clearScreen = "\033[H\033[2J"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// watchCommand provides live quota monitoring.
type watchCommand struct {
	root   *rootOptions
	once   bool
	rescan bool
}

func (c *watchCommand) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&c.once, "once", false, "print a single snapshot and exit")
	cmd.Flags().BoolVar(&c.rescan, "rescan", false, "discard saved history and re-read all logs")
}

func newWatchCmd(c *watchCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live usage, burn rate and depletion forecast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd)
		},
	}
	c.addFlags(cmd)
	return cmd
}

// run executes the watch command.
func (c *watchCommand) run(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, c.root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	// Initialize logger (quiet while the live view owns the terminal)
	log, err := newLogger(cfg.Logging, tty && !c.once)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg, log, c.rescan)
	if err != nil {
		return err
	}
	defer closeApp(a, log)

	formatter, err := newFormatter(cfg, out, tty)
	if err != nil {
		return err
	}

	if c.once {
		return c.runOnce(ctx, a, formatter, out)
	}
	return c.runLive(ctx, a, newRenderer(out, formatter, tty), log)
}

func (c *watchCommand) runOnce(ctx context.Context, a *app, formatter display.Formatter, out io.Writer) error {
	mon, err := a.newMonitor(nil)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	snap := mon.Tick(ctx)
	if err := a.store.SaveBlocks(a.engine.Blocks()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	if err := a.finish(); err != nil {
		return err
	}
	return formatter.FormatSnapshot(out, snap)
}

func (c *watchCommand) runLive(ctx context.Context, a *app, r *renderer, log logger.Logger) error {
	var observers []monitor.Observer
	if o := a.startMetrics(ctx); o != nil {
		observers = append(observers, o)
	}
	o, err := a.startNotifications(ctx)
	if err != nil {
		return err
	}
	if o != nil {
		observers = append(observers, o)
	}

	w, err := a.startWatcher(ctx)
	if err != nil {
		return err
	}
	var trigger monitor.Trigger
	if w != nil {
		trigger = w
		defer func() {
			if err := w.Close(); err != nil {
				log.Error("failed to close watcher", "error", err)
			}
		}()
	}

	mon, err := a.newMonitor(trigger, observers...)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	r.start()
	defer r.stop()

	errCh := make(chan error, 1)
	go func() { errCh <- mon.Run(ctx) }()

	// Updates is closed when Run returns.
	for snap := range mon.Updates() {
		if err := r.render(snap); err != nil {
			log.Warn("render failed", "error", err)
		}
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("monitor error: %w", err)
	}
	return a.finish()
}

// renderer draws snapshots. On a terminal each frame replaces the last.
type renderer struct {
	out       io.Writer
	formatter display.Formatter
	live      bool
	buf       bytes.Buffer
}

func newRenderer(out io.Writer, formatter display.Formatter, live bool) *renderer {
	return &renderer{out: out, formatter: formatter, live: live}
}

func (r *renderer) start() {
	if r.live {
		fmt.Fprint(r.out, hideCursor)
	}
}

func (r *renderer) stop() {
	if r.live {
		fmt.Fprint(r.out, showCursor)
	}
}

// render writes one frame in a single write to avoid flicker.
func (r *renderer) render(snap engine.Snapshot) error {
	r.buf.Reset()
	if r.live {
		r.buf.WriteString(clearScreen)
	}
	if err := r.formatter.FormatSnapshot(&r.buf, snap); err != nil {
		return err
	}
	_, err := r.out.Write(r.buf.Bytes())
	return err
}

// blocksCommand lists billing blocks.
type blocksCommand struct {
	root    *rootOptions
	limit   int
	offline bool
}

func newBlocksCmd(opts *rootOptions) *cobra.Command {
	c := &blocksCommand{root: opts}
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List billing blocks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd)
		},
	}
	cmd.Flags().IntVarP(&c.limit, "limit", "n", 0, "show only the newest N blocks (0 = all)")
	cmd.Flags().BoolVar(&c.offline, "offline", false, "show saved history without reading new usage")
	return cmd
}

// run executes the blocks command.
func (c *blocksCommand) run(cmd *cobra.Command) error {
	if c.limit < 0 {
		return fmt.Errorf("--limit must be >= 0, got %d", c.limit)
	}

	cfg, err := loadConfig(cmd, c.root)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	a, err := openApp(cfg, log, false)
	if err != nil {
		return err
	}
	defer closeApp(a, log)

	if !c.offline {
		mon, err := a.newMonitor(nil)
		if err != nil {
			return fmt.Errorf("failed to create monitor: %w", err)
		}
		mon.Tick(cmd.Context())
	}

	bs := a.engine.Blocks()
	if err := a.store.SaveBlocks(bs); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	if err := a.finish(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	formatter, err := newFormatter(cfg, out, isTerminal(out))
	if err != nil {
		return err
	}
	return formatter.FormatBlocks(out, newest(bs, c.limit))
}

// newest returns the last n blocks, or all of them when n is 0.
func newest(bs []blocks.Block, n int) []blocks.Block {
	if n <= 0 || n >= len(bs) {
		return bs
	}
	return bs[len(bs)-n:]
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List known plans and their limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writePlans(cmd.OutOrStdout())
		},
	}
}

func writePlans(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-8s %10s %9s %9s  %s\n", "PLAN", "TOKENS", "COST", "MESSAGES", "LIMIT"); err != nil {
		return err
	}
	for _, def := range limits.Plans() {
		kind := "fixed"
		if def.Name == limits.PlanCustom {
			kind = "estimated from history (P90)"
		}
		if _, err := fmt.Fprintf(w, "%-8s %10d %9s %9d  %s\n",
			def.Name, def.TokenLimit, fmt.Sprintf("$%.2f", def.CostLimitUSD), def.MessageLimit, kind); err != nil {
			return err
		}
	}
	return nil
}

// newFormatter builds the display formatter. Color and terminal sizing
// apply only when out is a terminal.
func newFormatter(cfg *config.Config, out io.Writer, tty bool) (display.Formatter, error) {
	format, err := display.ParseFormat(cfg.Display.Format)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	width := 0
	if f, ok := out.(*os.File); ok && tty {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = graphWidth(cols)
		}
	}

	return display.New(display.Config{
		Format:   format,
		Compact:  cfg.Display.Compact,
		Color:    cfg.Display.Color && tty,
		Graph:    cfg.Display.Graph,
		Width:    width,
		Location: loc,
	}), nil
}

// graphWidth leaves room for the graph's axis labels. Zero selects the
// formatter default.
func graphWidth(cols int) int {
	const (
		axis     = 12
		minWidth = 20
		maxWidth = 120
	)
	w := cols - axis
	switch {
	case cols <= 0:
		return 0
	case w < minWidth:
		return minWidth
	case w > maxWidth:
		return maxWidth
	default:
		return w
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func closeApp(a *app, log logger.Logger) {
	if err := a.Close(); err != nil {
		log.Error("failed to close", "error", err)
	}
}
