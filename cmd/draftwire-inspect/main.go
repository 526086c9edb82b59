// Offline inspector for a draftwire history database: dumps a room's
// finalized messages, or a single message by id, without a running server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"draftwire/pkg/models"
	"draftwire/pkg/store"
)

func main() {
	var (
		dbPath = flag.String("db", "", "pebble db path")
		a      = flag.String("a", "", "first room user")
		b      = flag.String("b", "", "second room user")
		id     = flag.String("id", "", "message id to fetch instead of a room listing")
		limit  = flag.Int("limit", 0, "keep only the newest N messages")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	st, err := store.OpenPebble(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *id != "" {
		msg, err := st.Get(*id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get %s: %v\n", *id, err)
			os.Exit(1)
		}
		_ = enc.Encode(msg)
		return
	}

	if *a == "" || *b == "" {
		fmt.Fprintln(os.Stderr, "--a and --b required for a room listing (or use --id)")
		os.Exit(2)
	}
	room := store.NewRoomID(models.UserID(*a), models.UserID(*b))
	msgs, err := st.List(room, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list %s: %v\n", room.Key(), err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "room %s: %d messages\n", room.Key(), len(msgs))
	_ = enc.Encode(msgs)
}
