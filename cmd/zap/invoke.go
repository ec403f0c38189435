package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-zap/types"
)

var (
	invokeMethod  string
	invokeBody    string
	invokeQuery   map[string]string
	invokeHeaders map[string]string
)

func init() {
	invokeCmd.Flags().StringVarP(&invokeMethod, "method", "X", "GET", "request method")
	invokeCmd.Flags().StringVarP(&invokeBody, "body", "d", "", "request body (string or @file)")
	invokeCmd.Flags().StringToStringVarP(&invokeQuery, "query", "q", nil, "query parameters")
	invokeCmd.Flags().StringToStringVarP(&invokeHeaders, "header", "H", nil, "request headers")
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(runCronCmd)
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <path>",
	Short: "Dispatch one request to a handler and print the response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(args[0], invokeMethod, invokeBody, invokeQuery, invokeHeaders)
		if err != nil {
			return err
		}

		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		result := host.Dispatcher().HandleRequest(cmd.Context(), req)
		printResult(cmd.OutOrStdout(), result)

		if result.Status >= 400 {
			return types.NewErrorf("handler responded with status %d", result.Status)
		}
		return nil
	},
}

var runCronCmd = &cobra.Command{
	Use:   "run-cron <name>",
	Short: "Fire one scheduled trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		host.Dispatcher().HandleScheduled(cmd.Context(), handlerName(args[0]))
		return nil
	},
}

func buildRequest(path, method, body string, query, headers map[string]string) (*types.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req := &types.Request{
		Method:  strings.ToUpper(method),
		Path:    path,
		Query:   make(map[string]string, len(query)),
		Headers: make(map[string]string, len(headers)),
	}

	for key, value := range query {
		req.Query[key] = value
	}
	for key, value := range headers {
		req.Headers[strings.ToLower(key)] = value
	}

	if strings.HasPrefix(body, "@") {
		data, err := os.ReadFile(body[1:])
		if err != nil {
			return nil, types.WrapError(err, "read body file")
		}
		body = string(data)
	}
	if body != "" {
		req.Body = &body
	}

	return req, nil
}

func printResult(w io.Writer, result *types.Result) {
	fmt.Fprintf(w, "%d\n", result.Status)

	keys := make([]string, 0, len(result.Headers))
	for key := range result.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fmt.Fprintf(w, "%s: %s\n", key, result.Headers[key])
	}

	fmt.Fprintf(w, "\n%s\n", result.Body)
}
