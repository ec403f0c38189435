package main

import (
	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-zap/lambda"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lambdaCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve handlers over HTTP and run the local cron scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}

		return host.Run()
	},
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Handle AWS Lambda events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		lambda.NewHandler(host.Dispatcher(), host.Logger()).Start()
		return nil
	},
}
