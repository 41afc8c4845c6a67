package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/db"
	"github.com/deemkeen/solopub/util"
	"github.com/deemkeen/solopub/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	keys, err := activitypub.LoadKeys(conf)
	if err != nil {
		log.Fatalln(err)
	}

	dbPath := util.ResolveFilePath("database.db")

	log.Println("Opening database and running migrations...")
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()
	log.Println("Database ready")

	client := activitypub.NewDefaultHTTPClient(30 * time.Second)
	resolver := activitypub.NewResolver(database, client)
	verifier := activitypub.NewVerifier(resolver)
	dispatcher := activitypub.NewDispatcher(database, conf, keys, resolver, client)
	processor := activitypub.NewProcessor(database, conf, dispatcher, resolver)
	publisher := activitypub.NewPublisher(database, conf, dispatcher, resolver)

	server := web.NewServer(database, conf, keys, verifier, processor, publisher)

	startServing(server, dispatcher)
}

func startServing(server *web.Server, dispatcher *activitypub.Dispatcher) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	cancel()

	// Let in-flight deliveries finish; anything still leased comes back via
	// lease expiry on the next run.
	stopped := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for deliveries to stop")
	}
}
