// Terminal client for a draftwire relay: websocket transport into the
// session reducer, rendered as a two-party conversation grid.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"draftwire/pkg/client"
	"draftwire/pkg/logger"
	"draftwire/pkg/models"
)

func main() {
	server := flag.String("server", "ws://localhost:8080", "relay base URL")
	user := flag.String("user", "", "your user name")
	peer := flag.String("peer", "", "the user you are talking to")
	flag.Parse()

	if *user == "" || *peer == "" {
		fmt.Fprintln(os.Stderr, "usage: draftwire-tui -user <name> -peer <name> [-server ws://host:port]")
		os.Exit(2)
	}

	// logs would corrupt the alternate screen; default them to a file
	if os.Getenv("DRAFTWIRE_LOG_SINK") == "" {
		os.Setenv("DRAFTWIRE_LOG_SINK", "file:draftwire-tui.log")
	}
	logger.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := client.Dial(ctx, *server, models.UserID(*user))
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	p := tea.NewProgram(newModel(conn, models.UserID(*user), models.UserID(*peer)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
		os.Exit(1)
	}
}
