// Package main provides a terminal renderer for the island frame stream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	apiconnect "github.com/osa030/musicisland/internal/api/connect"
	"github.com/osa030/musicisland/internal/api/islandv1"
	"github.com/osa030/musicisland/internal/infra/logger"
)

var (
	app     = kingpin.New("pillview", "Terminal renderer for the music island")
	server  = app.Flag("server", "Daemon address").Default("http://127.0.0.1:7219").String()
	token   = app.Flag("token", "Control token (or set ISLAND_TOKEN env)").Envar("ISLAND_TOKEN").String()
	verbose = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile = app.Flag("logfile", "Path to log file (default: discarded)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	// The terminal belongs to the renderer
	if err := logger.Init(logger.FromFlags(*verbose, *logfile, "discard")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	p := tea.NewProgram(newModel(client, time.Now()), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream(ctx, client, p)

	final, err := p.Run()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.lastErr != nil {
		fmt.Printf("Stream error: %v\n", m.lastErr)
		os.Exit(1)
	}
}

// stream forwards frames to the program until ctx ends.
func stream(ctx context.Context, client *apiconnect.Client, p *tea.Program) {
	err := client.Subscribe(ctx, func(f islandv1.Frame) error {
		zlog.Debug().Msgf("pillview: frame: seq=%d state=%s", f.Seq, f.State)
		p.Send(frameMsg(f))
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		zlog.Error().Err(err).Msg("pillview: stream failed")
	}
	p.Send(streamEnd{err: err})
}
