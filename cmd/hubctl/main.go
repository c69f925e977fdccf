// hubctl is a small CLI for poking at a running hub: fetch the state
// snapshot, propose updates, or watch changes as they arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robot-teleop/hub/pkg/client"
	"github.com/robot-teleop/hub/pkg/state"
)

func main() {
	host := flag.String("host", "localhost", "hub host")
	port := flag.Int("port", client.DefaultPort, "hub port")
	identity := flag.String("identity", "hubctl", "identity role to declare")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := client.New(client.Options{
		Host:        *host,
		Port:        *port,
		Identity:    *identity,
		NoReconnect: true,
	})
	if err := c.Connect(); err != nil {
		log.Fatalf("hubctl: %v", err)
	}
	defer c.Close()

	switch args[0] {
	case "get":
		runGet(c)
	case "set":
		runSet(c, args[1:])
	case "watch":
		runWatch(c)
	default:
		usage()
		os.Exit(2)
	}
}

func runGet(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot, err := c.GetState(ctx)
	if err != nil {
		log.Fatalf("hubctl: %v", err)
	}
	printJSON(snapshot)
}

func runSet(c *client.Client, pairs []string) {
	if len(pairs) == 0 {
		log.Fatal("hubctl: set needs at least one key=value pair")
	}

	partial := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			log.Fatalf("hubctl: invalid pair %q, want key=value", pair)
		}
		// Values that parse as JSON are sent typed; everything else is
		// sent as a string.
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		partial[key] = value
	}

	if err := c.UpdateState(partial); err != nil {
		log.Fatalf("hubctl: %v", err)
	}
}

func runWatch(c *client.Client) {
	c.AddListener(state.Func(func(s state.State) {
		printJSON(s.Clone())
	}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("hubctl: %v", err)
	}
	fmt.Println(string(data))
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: hubctl [flags] <command>

commands:
  get                  print the full state snapshot
  set key=value ...    propose a partial state update
  watch                print the mirror on every change until interrupted

flags:`)
	flag.PrintDefaults()
}
