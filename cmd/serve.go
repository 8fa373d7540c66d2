/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"lesa/config"
	"lesa/db"
	"lesa/feedmodel"
	"lesa/fetcher"
	"lesa/models"
	"lesa/server"
	"lesa/services"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the lesa feed tree",
		Description: `Starts the lesa HTTP server and the fetch scheduler.

Loads the configured accounts into the feed tree, refreshes their feeds on
schedule and serves the tree, counts and messages over the HTTP API. Count
changes are pushed to connected clients as server-sent events.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Config file",
				EnvVars: []string{"LESA_CONFIG"},
				Value:   "lesa.toml",
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting lesa...")

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			if err := db.Migrate(cfg.Database); err != nil {
				return err
			}

			reader, err := db.NewReader(cfg.Database)
			if err != nil {
				return err
			}
			defer reader.Close()
			writer, err := db.NewWriter(cfg.Database)
			if err != nil {
				return err
			}
			defer writer.Close()

			if err := services.Seed(cfg, reader, writer); err != nil {
				return err
			}

			model := feedmodel.New()
			standard := services.NewStandard(reader, writer)
			if err := model.LoadActivatedServiceAccounts(ctx.Context, []feedmodel.EntryPoint{standard}); err != nil {
				return err
			}

			// Channel for feed-fetched events from the scheduler
			fetchedChan := make(chan interface{})

			bc := server.NewBroadcaster()
			model.AddObserver(server.CountsObserver(bc))

			// One lock guards the tree; the scheduler applies results and
			// the server snapshots under it.
			treeLock := &sync.Mutex{}

			fetch := fetcher.New(fetcher.Config{
				Model:   model,
				Reader:  reader,
				Writer:  writer,
				Workers: cfg.Fetch.Workers,
				Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
				Events:  fetchedChan,
				Lock:    treeLock,
			})

			app := server.Server(&server.ServerConfig{
				Model:       model,
				Reader:      reader,
				Writer:      writer,
				Lock:        treeLock,
				Broadcaster: bc,
			})

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			var wg sync.WaitGroup

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				cancel()
				app.ShutdownWithTimeout(60 * time.Second)
				bc.Shutdown()
				treeLock.Lock()
				model.Stop()
				treeLock.Unlock()
				defer wg.Add(-2)
			}()

			go func() {
				fmt.Println("Starting fetch scheduler...")
				fetch.Run(runCtx, cfg.Fetch.IntervalMins)
			}()

			go func() {
				fmt.Println("Starting server...")
				addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
				if err := app.Listen(addr); err != nil {
					log.Panic(err)
				}
			}()

			go func() {
				// Forward fetched-feed events to SSE clients
				for event := range fetchedChan {
					if fetched, ok := event.(models.FeedFetchedEvent); ok {
						bc.BroadcastFeedFetched(fetched)
					}
				}
			}()

			// Wait for the server and scheduler to shut down
			wg.Add(2)
			wg.Wait()

			fmt.Println("Done!")
			return nil
		},
	}
}
