// Package main implements tdsbench, a small CLI demonstrator exercising
// the connection pool, the handshake, and a single query end-to-end
// against a real SQL Server / Azure SQL endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tdsbench",
		Short: "Exercise the TDS client's handshake, pool, and query path",
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("host", "localhost", "SQL Server host")
	root.PersistentFlags().Int("port", 1433, "SQL Server port")
	root.PersistentFlags().String("database", "", "database name")
	root.PersistentFlags().String("user", "", "SQL login user")
	root.PersistentFlags().String("password", "", "SQL login password")
	root.PersistentFlags().String("encrypt", "on", "encryption mode: off, on, strict")

	_ = viper.BindPFlags(root.PersistentFlags())
	viper.SetEnvPrefix("TDSBENCH")
	viper.AutomaticEnv()

	root.AddCommand(newConnectCmd(), newPoolStatsCmd(), newBenchCmd())
	return root
}

func initViper(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func fatalf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
	os.Exit(1)
}
