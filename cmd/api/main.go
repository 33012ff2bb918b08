package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"dealflow/attention"
	"dealflow/auth"
	"dealflow/condition"
	"dealflow/db"
	"dealflow/deal"
	"dealflow/task"
	"dealflow/timeline"
)

func main() {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	events := timeline.NewWriter()
	registry := condition.NewRegistry(pool, events)

	server := NewServer(
		auth.NewService(auth.NewRepository(pool), jwtSecret),
		deal.NewStageService(pool, registry, events),
		registry,
		timeline.NewRepository(pool),
		attention.NewEngine(attention.NewRepository(pool)),
		task.NewService(task.NewRepository(pool)),
	)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
