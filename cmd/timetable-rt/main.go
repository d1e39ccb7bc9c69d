package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	timetablert "github.com/theoremus-urban-solutions/timetable-rt"
	"github.com/theoremus-urban-solutions/timetable-rt/config"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "timetable-rt",
	Short: "Realtime delay propagation over a static timetable",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the realtime feed and expose the monitoring endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		go app.Run(ctx)
		timetablert.StartServer(app)
		timetablert.HandleGracefulShutdown(cancel)
		return nil
	},
}

var oneshotCmd = &cobra.Command{
	Use:   "oneshot",
	Short: "Apply one feed fetch and print the estimated timetable",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		if err := app.PollOnce(); err != nil {
			return err
		}
		delivery := app.Exporter.BuildEstimatedTimetable()
		data, err := json.MarshalIndent(delivery, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func buildApp() (*timetablert.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	app, err := timetablert.NewApp(cfg)
	if err != nil {
		return nil, err
	}
	if debug {
		app.RT.SetDebug(true)
	}
	return app, nil
}

func main() {
	timetablert.InitLogging()
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "trace every train")
	rootCmd.AddCommand(serveCmd, oneshotCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
