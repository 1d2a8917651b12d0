// Command pipechat-server runs the chat server: framed TCP protocol,
// SQLite-backed persistence, and an optional websocket bridge.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pipechat/pipechat/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (created with defaults if missing)")
	dbPath := flag.String("db", "", "override database path from config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <port>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < 1 || port > 65535 {
		log.Fatalf("Invalid port %q", flag.Arg(0))
	}

	var config server.TOMLConfig
	if *configPath != "" {
		config, err = server.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = server.DefaultTOMLConfig()
	}
	config.Server.Port = port
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}

	server.InitFileLogging(config)

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if *debug {
		srv.EnableDebugLogging()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
