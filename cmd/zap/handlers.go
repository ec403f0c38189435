package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-zap/cron"
	"github.com/saiset-co/sai-zap/types"
)

const handlerExtension = ".zap"

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
}

var deployCmd = &cobra.Command{
	Use:   "deploy <file|dir>",
	Short: "Upload a .zap file or every .zap file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		return deploy(cmd.Context(), host.Store(), args[0], cmd.OutOrStdout())
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a handler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		return remove(cmd.Context(), host.Store(), args[0], cmd.OutOrStdout())
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List deployed handlers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := newHost(cmd.Context())
		if err != nil {
			return err
		}
		defer host.Close()

		return list(cmd.Context(), host.Store(), cmd.OutOrStdout())
	},
}

type handlerFile struct {
	path string
	key  string
}

func handlerName(key string) string {
	return strings.TrimSuffix(key, handlerExtension)
}

// collectHandlers resolves the files a deploy uploads. A directory is walked
// for *.zap files keyed by their path relative to it; a single file keeps
// its own cleaned path as the key.
func collectHandlers(path string) ([]handlerFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		key := filepath.ToSlash(filepath.Clean(path))
		if filepath.IsAbs(path) {
			key = filepath.Base(path)
		}
		if !strings.HasSuffix(key, handlerExtension) {
			key += handlerExtension
		}
		return []handlerFile{{path: path, key: key}}, nil
	}

	var files []handlerFile
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), handlerExtension) {
			return nil
		}

		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		files = append(files, handlerFile{path: p, key: filepath.ToSlash(rel)})
		return nil
	})

	return files, err
}

func deploy(ctx context.Context, store types.ObjectStore, path string, w io.Writer) error {
	files, err := collectHandlers(path)
	if err != nil {
		return err
	}

	for _, file := range files {
		source, err := os.ReadFile(file.path)
		if err != nil {
			return err
		}

		if err := store.Put(ctx, file.key, source); err != nil {
			return types.WrapError(err, "upload "+file.key)
		}

		name := handlerName(file.key)
		expr, ok := cron.ParseCron(string(source))
		if !ok {
			fmt.Fprintf(w, "+ %s\n", name)
			continue
		}

		if err := cron.Validate(expr); err != nil {
			fmt.Fprintf(w, "+ %s  (invalid @cron %q: %v)\n", name, expr, err)
			continue
		}

		rule, err := cron.ToEventBridge(expr)
		if err != nil {
			fmt.Fprintf(w, "+ %s  (invalid @cron %q: %v)\n", name, expr, err)
			continue
		}
		fmt.Fprintf(w, "+ %s  ↻ %s  [%s %s]\n", name, expr, cron.RuleName(name), rule)
	}

	return nil
}

func remove(ctx context.Context, store types.ObjectStore, name string, w io.Writer) error {
	name = handlerName(name)

	if err := store.Delete(ctx, name+handlerExtension); err != nil {
		return err
	}

	fmt.Fprintf(w, "- %s\n", name)
	return nil
}

func list(ctx context.Context, store types.ObjectStore, w io.Writer) error {
	keys, err := store.List(ctx, "")
	if err != nil {
		return err
	}

	var names []string
	for _, key := range keys {
		if strings.HasSuffix(key, handlerExtension) {
			names = append(names, handlerName(key))
		}
	}

	if len(names) == 0 {
		fmt.Fprintln(w, "no handlers deployed")
		return nil
	}

	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}
