package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to client directory (empty: no static files)")
	dbPath := flag.String("db", "bomberman.db", "Path to SQLite database (empty: no persistence)")
	levelDir := flag.String("levels", "", "Path to level directory (empty: embedded levels)")
	flag.Parse()

	levels, err := LoadLevels(*levelDir)
	if err != nil {
		log.Fatalf("load levels: %v", err)
	}
	log.Printf("Loaded levels: %v", LevelNames(levels))

	var db *DB
	if *dbPath != "" {
		db, err = OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
	}

	hub := NewHub(db, levels)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.Shutdown()
}
