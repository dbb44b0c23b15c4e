// fabric-worker is a standalone worker process. It connects to the fabric
// broker, listens for assignments addressed to its agent id and reports
// results and heartbeats.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	fabricnats "github.com/AGENTFABRIC/internal/nats"
	"github.com/AGENTFABRIC/internal/worker"
)

func main() {
	natsURL := flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
	agentID := flag.String("agent-id", "", "Agent id to serve (required)")
	heartbeat := flag.Int("heartbeat", 10, "Heartbeat interval in seconds")
	flag.Parse()

	godotenv.Load()

	if v := os.Getenv("NATS_URL"); v != "" {
		*natsURL = v
	}
	if *agentID == "" {
		*agentID = os.Getenv("AGENT_ID")
	}
	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "agent-id is required (flag or AGENT_ID)")
		os.Exit(1)
	}

	client, err := fabricnats.NewClient(*natsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to NATS at %s: %v\n", *natsURL, err)
		os.Exit(1)
	}
	defer client.Close()

	runner := worker.NewRunner(client, *agentID, worker.DefaultHandlers())
	runner.SetHeartbeatInterval(time.Duration(*heartbeat) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Printf("[WORKER] shutdown requested")
		cancel()
	}()

	log.Printf("[WORKER] %s serving assignments from %s", *agentID, *natsURL)
	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Worker error: %v\n", err)
		os.Exit(1)
	}
}
