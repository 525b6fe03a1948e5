package main

import (
	"fmt"
	"net"
	"os"

	"github.com/loomorch/loom/internal/store"
)

// findRoot discovers the workspace root by walking up from the --repo
// directory, or from the current directory when --repo is unset
// (spec.md §6). Every subcommand but init and plan validate needs one.
func findRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if cfgFile != "" {
		wd = cfgFile
	}
	root, err := store.DiscoverRoot(wd)
	if err != nil {
		return "", fmt.Errorf("no .work workspace found above %s (run `loom init` first)", wd)
	}
	return root, nil
}

// dialDaemon connects to the socket at root's well-known path, failing
// with a clear message if no daemon is listening.
func dialDaemon(root string) (net.Conn, error) {
	conn, err := net.Dial("unix", store.SocketPath(root))
	if err != nil {
		return nil, fmt.Errorf("no daemon listening at %s (run `loom daemon start` first): %w", store.SocketPath(root), err)
	}
	return conn, nil
}
