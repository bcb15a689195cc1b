package main

import (
	"flag"
	"fmt"
	"os"

	"esmpd/pkg/logger"
	"esmpd/pkg/store"
)

// Offline inspection of an esmpd database: list groups, show stored
// metadata, or dump a thread log. Run against a copy while the server is
// down; pebble allows one writer.
func main() {
	dbPath := flag.String("db", "", "pebble DB path")
	groupID := flag.String("group", "", "print stored metadata for this group")
	thread := flag.String("thread", "", "dump this thread log (e.g. group:g1, user:<pubkey>, dm:a#x|b#y)")
	limit := flag.Int("limit", 0, "most recent n records only (0 = all)")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init("error")
	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *groupID != "":
		meta, err := store.GetGroupMeta(*groupID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "group %s: %v\n", *groupID, err)
			os.Exit(1)
		}
		fmt.Println(string(meta))
	case *thread != "":
		msgs, err := store.ListMessages(*thread, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "thread %s: %v\n", *thread, err)
			os.Exit(1)
		}
		for _, m := range msgs {
			fmt.Println(string(m))
		}
	default:
		ids, err := store.ListGroups()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list groups: %v\n", err)
			os.Exit(1)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	}
}
