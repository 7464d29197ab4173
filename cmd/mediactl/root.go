package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/EgorLis/my-media/internal/app"
	"github.com/EgorLis/my-media/internal/config"
)

var verbose bool

// rootCmd — операционные команды медиа-подсистемы. Конфигурация та же, что у сервера.
var rootCmd = &cobra.Command{
	Use:           "mediactl",
	Short:         "Media storage maintenance tool",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print component logs to stderr")

	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(shardCmd)
	rootCmd.AddCommand(tokenCmd)
}

func logger() *log.Logger {
	var w io.Writer = io.Discard
	if verbose {
		w = os.Stderr
	}
	return log.New(w, "[mediactl] ", log.LstdFlags)
}

// openCore собирает хранилища и сервисы по переменным окружения
func openCore(ctx context.Context) (*app.Core, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return app.NewCore(ctx, cfg, logger())
}
