package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlstream/tds-go/internal/conn"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the handshake against a target and report the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}

			cfg := connConfigFromViper()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			c, err := conn.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			logrus.WithFields(logrus.Fields{
				"state":    c.State(),
				"database": c.Database(),
			}).Info("connected")
			return nil
		},
	}
	return cmd
}

func connConfigFromViper() conn.Config {
	var cfg conn.Config
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.Database = viper.GetString("database")
	cfg.User = viper.GetString("user")
	cfg.Password = viper.GetString("password")
	cfg.EncryptMode = parseEncryptMode(viper.GetString("encrypt"))
	return cfg
}
