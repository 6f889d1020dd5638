package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halvdan/waxwing/activitypub"
	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/stator"
	"github.com/halvdan/waxwing/util"
	"github.com/halvdan/waxwing/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Opening database...")
	database := db.GetDB()

	if _, err := activitypub.EnsureInstanceActor(conf); err != nil {
		log.Fatalln(err)
	}

	runner := stator.NewRunner(database,
		time.Duration(conf.Conf.SchedulerSeconds)*time.Second,
		conf.Conf.SchedulerWorkers,
		activitypub.InteractionGraph(),
		activitypub.PlaylistGraph(),
	)
	runner.Start()

	if conf.Conf.WithAp {
		activitypub.StartDeliveryWorker(conf)
	}

	startServing(runner, conf)
}

func startServing(runner *stator.Runner, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping scheduler")
	runner.Stop()
}
