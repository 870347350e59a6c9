// overlay-host is a reference host process for perfhud. It dials the
// overlay's host endpoint, streams synthetic telemetry and owns the global
// shortcut registrations, so the overlay can be exercised without the real
// game-side host.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"perfhud/internal/bridge"
	"perfhud/internal/config"
	"perfhud/internal/hotkeys"
	"perfhud/internal/render"
	"perfhud/internal/settings"
	"perfhud/internal/toast"
	"perfhud/internal/wsserver"
)

var errNoPatch = errors.New("nothing to change: pass at least one of --enabled, --mode or --metric")

var (
	urlFlag     string
	configFlag  string
	verboseFlag bool

	intervalFlag time.Duration
	gameFlag     string
	pidFlag      int
	seedFlag     uint64

	kindFlag  string
	titleFlag string
	bodyFlag  string

	enabledFlag string
	modeFlag    string
	metricFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "overlay-host",
	Short: "Reference host process for the perfhud overlay",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream telemetry and register global shortcuts until interrupted",
	RunE:  runHost,
}

var toastCmd = &cobra.Command{
	Use:   "toast",
	Short: "Send one notification toast (replaces any running host connection)",
	RunE:  runToast,
}

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Send a host settings patch (replaces any running host connection)",
	RunE:  runPatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "overlay host endpoint (default: from the overlay config)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "overlay config file used to find the endpoint")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	runCmd.Flags().DurationVar(&intervalFlag, "interval", time.Second, "telemetry sample interval")
	runCmd.Flags().StringVar(&gameFlag, "game", "", "report a game process with this name")
	runCmd.Flags().IntVar(&pidFlag, "pid", 0, "pid of the reported game process")
	runCmd.Flags().Uint64Var(&seedFlag, "seed", 1, "telemetry random seed")

	toastCmd.Flags().StringVar(&kindFlag, "kind", string(toast.KindMessage), "message, comment, reply or warning")
	toastCmd.Flags().StringVar(&titleFlag, "title", "", "toast title")
	toastCmd.Flags().StringVar(&bodyFlag, "body", "", "toast body")
	_ = toastCmd.MarkFlagRequired("title")

	patchCmd.Flags().StringVar(&enabledFlag, "enabled", "", "true or false")
	patchCmd.Flags().StringVar(&modeFlag, "mode", "", "minimal or full")
	patchCmd.Flags().StringSliceVar(&metricFlags, "metric", nil, "metric=on|off, repeatable")

	rootCmd.AddCommand(runCmd, toastCmd, patchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// endpoint resolves --url, falling back to the listen address in the
// overlay config.
func endpoint() string {
	if urlFlag != "" {
		return urlFlag
	}
	path := configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Debug("[DEBUG-HOST] overlay config not loaded, using defaults", "path", path, "error", err)
		cfg = config.DefaultConfig()
	}
	return "ws://" + cfg.Bridge.ListenAddr + "/host"
}

func dial(ctx context.Context) (*wsserver.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsserver.Dial(dialCtx, endpoint())
}

func runHost(cmd *cobra.Command, args []string) error {
	if intervalFlag <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", intervalFlag)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dial(ctx)
	if err != nil {
		return err
	}

	var game *render.GameProcess
	if gameFlag != "" || pidFlag != 0 {
		game = &render.GameProcess{Name: gameFlag, PID: pidFlag}
		if game.Name == "" {
			game.Name = "game.exe"
		}
	}

	manager := hotkeys.NewManager()
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("[WARN-HOST] releasing shortcuts failed", "error", err)
		}
	}()

	slog.Info("[HOST] connected", "url", endpoint(), "interval", intervalFlag)
	h := newHost(client, manager, newTelemetryGenerator(seedFlag, game))
	return h.run(ctx, intervalFlag)
}

func runToast(cmd *cobra.Command, args []string) error {
	kind := toast.Kind(kindFlag)
	if !kind.Valid() {
		return fmt.Errorf("unknown toast kind %q", kindFlag)
	}
	return sendOnce(cmd.Context(), bridge.TopicToast, toast.Toast{
		Kind:      kind,
		Title:     titleFlag,
		Body:      bodyFlag,
		CreatedAt: time.Now(),
	})
}

func runPatch(cmd *cobra.Command, args []string) error {
	patch, err := buildPatch(enabledFlag, modeFlag, metricFlags)
	if err != nil {
		return err
	}
	return sendOnce(cmd.Context(), bridge.TopicSettingsPatch, patch)
}

// buildPatch turns the patch command's flags into a settings.Patch.
func buildPatch(enabled, mode string, metrics []string) (settings.Patch, error) {
	var patch settings.Patch
	switch strings.ToLower(enabled) {
	case "":
	case "true", "on", "1":
		patch.OverlayEnabled = settings.Bool(true)
	case "false", "off", "0":
		patch.OverlayEnabled = settings.Bool(false)
	default:
		return patch, fmt.Errorf("--enabled: expected true or false, got %q", enabled)
	}
	if mode != "" {
		patch.Mode = settings.ModePtr(settings.Mode(strings.ToLower(mode)))
	}
	for _, raw := range metrics {
		name, state, ok := strings.Cut(raw, "=")
		if !ok {
			return patch, fmt.Errorf("--metric: expected metric=on|off, got %q", raw)
		}
		var visible bool
		switch strings.ToLower(state) {
		case "on", "true", "1":
			visible = true
		case "off", "false", "0":
		default:
			return patch, fmt.Errorf("--metric %s: expected on or off, got %q", name, state)
		}
		if patch.MetricVisibility == nil {
			patch.MetricVisibility = map[settings.Metric]bool{}
		}
		patch.MetricVisibility[settings.Metric(strings.ToLower(name))] = visible
	}
	if patch.IsEmpty() {
		return patch, errNoPatch
	}
	if err := patch.Validate(); err != nil {
		return patch, err
	}
	return patch, nil
}

func sendOnce(ctx context.Context, topic bridge.Topic, payload any) error {
	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Send(topic, payload); err != nil {
		return err
	}
	slog.Info("[HOST] sent", "topic", topic)
	return nil
}
