package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"taskflow/dashboard/internal/apiclient"
)

// waitfordeps blocks until the TaskFlow API answers /healthz and, when
// TEST_POSTGRES_DSN is set, until Postgres accepts connections.
func main() {
	baseURL := os.Getenv("TASKFLOW_API_URL")
	if baseURL == "" {
		fmt.Fprintln(os.Stderr, "TASKFLOW_API_URL is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_DEPS_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_DEPS_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}
	deadline := time.Now().Add(timeout)

	client, err := apiclient.New(apiclient.Config{BaseURL: baseURL, Timeout: 2 * time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create api client: %v\n", err)
		os.Exit(2)
	}
	waitFor("taskflow api", deadline, client.Health)

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		waitFor("postgres", deadline, db.PingContext)
	}
}

func waitFor(name string, deadline time.Time, probe func(context.Context) error) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := probe(ctx)
		cancel()
		if err == nil {
			fmt.Println(name + " ready")
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "%s not ready by deadline: %v\n", name, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}
