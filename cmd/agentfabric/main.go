package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AGENTFABRIC/internal/server"
	"github.com/AGENTFABRIC/internal/types"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	natsPort := flag.Int("nats-port", 4222, "Embedded NATS port")
	noNATS := flag.Bool("no-nats", false, "Run in-process without the embedded NATS broker")
	configPath := flag.String("config", "configs/fabric.yaml", "Fabric configuration file")
	flag.Parse()

	// Optional .env for local development
	godotenv.Load()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to determine base path: %v\n", err)
		os.Exit(1)
	}
	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(basePath, *configPath)
	}

	if v := os.Getenv("PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*port = parsed
		}
	}

	cfg, err := types.LoadFabricConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	printBanner()

	np := *natsPort
	if *noNATS {
		np = 0
	}

	srv, err := server.NewServer(cfg, basePath, *port, np)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize fabric: %v\n", err)
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(fmt.Sprintf(":%d", *port))
	}()

	fmt.Println("  Press Ctrl+C to shutdown")
	fmt.Println()

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	case <-shutdown:
		fmt.Println()
		fmt.Println("Shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Goodbye!")
}

// getBasePath returns the directory containing the executable,
// or the current working directory if running via `go run`
func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}

	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}

	return dir, nil
}

func printBanner() {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║              AGENTFABRIC v1.0.0                       ║")
	fmt.Println("  ║       Distributed AI Task Orchestration               ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()
}
