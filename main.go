package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/database"
	"github.com/rutin-db/rutin/lib/logger"
	"github.com/rutin-db/rutin/redis/eventloop"
	"github.com/rutin-db/rutin/redis/server"
	"github.com/rutin-db/rutin/tcp"
)

var banner = `
               __  .__
  _______ __ _/  |_|__| ____
  \_  __ \  |  \   __\  |/    \
   |  | \/  |  /|  | |  |   |  \
   |__|  |____/ |__| |__|___|  /
                             \/
`

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rutin",
	Short: "An in-memory key-value server speaking RESP3",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (default rutin.toml if present)")
}

func runServer() error {
	print(banner)
	if err := config.Setup(configFile); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(&logger.Settings{
		Path:  config.Properties.Server.LogDir,
		Name:  "rutin",
		Ext:   ".log",
		Level: config.Properties.Server.LogLevel,
	})

	addr := fmt.Sprintf("%s:%d", config.Properties.Server.Host, config.Properties.Server.Port)
	if config.Properties.Server.UseEventLoop {
		engine := database.NewStandaloneServer()
		loop := eventloop.NewServer(engine)
		defer engine.Close()
		return loop.Run(addr)
	}

	cfg := &tcp.Config{
		Address:        addr,
		MaxConnections: config.Properties.Server.MaxConnections,
	}
	if tlsProps := config.Properties.TLS; tlsProps.Port != 0 {
		cfg.TLSAddress = fmt.Sprintf("%s:%d", config.Properties.Server.Host, tlsProps.Port)
		cfg.CertFile = tlsProps.CertFile
		cfg.KeyFile = tlsProps.KeyFile
	}
	return tcp.ListenAndServeWithSignal(cfg, server.MakeHandler())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
