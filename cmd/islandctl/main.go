// Package main provides the island control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/musicisland/internal/api/connect"
	"github.com/osa030/musicisland/internal/api/islandv1"
)

var (
	app    = kingpin.New("islandctl", "Music island control client")
	server = app.Flag("server", "Daemon address").Default("http://127.0.0.1:7219").String()
	token  = app.Flag("token", "Control token (or set ISLAND_TOKEN env)").Envar("ISLAND_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show the daemon status")

	// gesture command
	gestureCmd  = app.Command("gesture", "Send a gesture to the island")
	gestureName = gestureCmd.Arg("gesture", "tap, swipe_up or long_press").Required().Enum("tap", "swipe_up", "long_press")

	// transport command
	transportCmd  = app.Command("transport", "Send a transport command to the player")
	transportName = transportCmd.Arg("command", "play, pause, toggle, next, previous or raise").Required().
			Enum(islandv1.CommandPlay, islandv1.CommandPause, islandv1.CommandToggle,
			islandv1.CommandNext, islandv1.CommandPrevious, islandv1.CommandRaise)

	// enable / disable commands
	enableCmd  = app.Command("enable", "Enable the island")
	disableCmd = app.Command("disable", "Disable the island")

	// wave command
	waveCmd  = app.Command("wave", "Select the wave animation")
	waveName = waveCmd.Arg("variant", "classic, voice or heartbeat").Required().Enum("classic", "voice", "heartbeat")

	// watch command
	watchCmd = app.Command("watch", "Print frames as they are published")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		status(ctx, client)
	case gestureCmd.FullCommand():
		check(client.Gesture(ctx, *gestureName))
		fmt.Printf("Gesture sent: %s\n", *gestureName)
	case transportCmd.FullCommand():
		check(client.Transport(ctx, *transportName))
		fmt.Printf("Command sent: %s\n", *transportName)
	case enableCmd.FullCommand():
		updateSettings(ctx, client, islandv1.SettingsUpdate{Enabled: boolPtr(true)})
	case disableCmd.FullCommand():
		updateSettings(ctx, client, islandv1.SettingsUpdate{Enabled: boolPtr(false)})
	case waveCmd.FullCommand():
		updateSettings(ctx, client, islandv1.SettingsUpdate{Wave: waveName})
	case watchCmd.FullCommand():
		watch(ctx, client)
	}
}

func check(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func boolPtr(v bool) *bool { return &v }

func status(ctx context.Context, client *apiconnect.Client) {
	s, err := client.GetStatus(ctx)
	check(err)
	printStatus(s)
}

func updateSettings(ctx context.Context, client *apiconnect.Client, update islandv1.SettingsUpdate) {
	s, err := client.UpdateSettings(ctx, update)
	check(err)
	fmt.Printf("Settings updated: enabled=%t wave=%s\n", s.Enabled, s.Wave)
}

func printStatus(s islandv1.Status) {
	fmt.Println("\n=== ISLAND STATUS ===")
	fmt.Printf("Enabled: %v\n", s.Enabled)
	fmt.Printf("Wave: %s\n", s.Wave)
	fmt.Printf("Subscribers: %d\n", s.Subscribers)

	if s.HostID == "" {
		fmt.Println("\nNo island host has run yet")
	} else {
		fmt.Println("\nHost:")
		fmt.Printf("  Host ID: %s\n", s.HostID)
		fmt.Printf("  Phase: %s\n", s.HostPhase)
		if s.StopReason != "" {
			fmt.Printf("  Stop Reason: %s\n", s.StopReason)
		}
		fmt.Printf("  Last Heartbeat: %s\n", formatTime(s.LastHeartbeat))
	}

	if s.Running {
		fmt.Println("\nIsland:")
		fmt.Printf("  Visibility: %s\n", formatVisibility(s.Visibility))
		fmt.Printf("  Unlocked: %v\n", s.Unlocked)
		fmt.Printf("  Player Foreground: %v\n", s.TargetForeground)
		if s.PauseDeadline != "" {
			fmt.Printf("  Auto-hide: %s\n", formatTime(s.PauseDeadline))
		}

		fmt.Println("\nPlayback:")
		fmt.Printf("  Player: %s\n", s.Player)
		fmt.Printf("  State: %s\n", formatPhase(s.Phase))
		fmt.Printf("  Title: %s\n", s.Title)
		fmt.Printf("  Artists: %s\n", strings.Join(s.Artists, ", "))
		fmt.Printf("  Album: %s\n", s.Album)
		fmt.Printf("  Position: %s / %s\n", formatMillis(s.ElapsedMs), formatMillis(s.DurationMs))
	}

	for _, w := range s.Warnings {
		fmt.Printf("\nWarning: %s\n", w)
	}
	fmt.Println()
}

func watch(ctx context.Context, client *apiconnect.Client) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("Watching frames. Press Ctrl+C to exit.")
	err := client.Subscribe(ctx, func(f islandv1.Frame) error {
		printFrame(f)
		return nil
	})
	if err != nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
}

func printFrame(f islandv1.Frame) {
	fmt.Printf("\n[Sequence: %d] %s %s\n", f.Seq, f.Time, formatVisibility(f.State))
	if f.State == "hidden" {
		return
	}
	fmt.Printf("  %s  %s - %s\n", formatPhase(f.Phase), f.Title, strings.Join(f.Artists, ", "))
	fmt.Printf("  %s / %s  wave=%s accent=%s\n", formatMillis(f.ElapsedMs), formatMillis(f.DurationMs), f.Wave, f.Accent)
}

func formatVisibility(v string) string {
	switch v {
	case "hidden":
		return "Hidden"
	case "pill":
		return "Pill"
	case "expanded":
		return "Expanded"
	default:
		return "Unknown"
	}
}

func formatPhase(phase string) string {
	switch phase {
	case "playing":
		return "▶️  Playing"
	case "buffering":
		return "⏳ Buffering"
	case "paused":
		return "⏸  Paused"
	case "stopped":
		return "⏹  Stopped"
	default:
		return "❓ None"
	}
}

// formatTime renders an API timestamp relative to now.
func formatTime(ts string) string {
	t, err := islandv1.ParseTime(ts)
	if err != nil || t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(t), t.Local().Format(time.TimeOnly))
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
