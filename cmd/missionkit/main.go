// Package main provides the missionkit CLI: validate, run, resume, inspect
// and test hierarchical missions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/project"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	projectDir string
	logLevel   string
)

func main() {
	loadDotEnv(".env")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"); comments
// and blanks are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "missionkit",
	Short:         "Hierarchical mission orchestration",
	Long:          "missionkit runs missions: workflows of stages and steps that call contracted tools, move typed variables between scopes and jump on evaluated conditions.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadProject finds the manifest from --project or the working directory.
// Without one, a fallback project rooted at the working directory is used.
func loadProject() (*project.Project, error) {
	start := projectDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}
	p, err := project.Discover(start)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = project.Fallback(start)
	}
	if logLevel != "" {
		p.Log.Level = logLevel
	}
	return p, nil
}

// projectLogger builds the project logger on stderr.
func projectLogger(p *project.Project) hclog.Logger {
	return p.Logger(os.Stderr)
}

// commandContext returns cmd's context, or a background context when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "missionkit %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "Project directory (default: discover missionkit.yaml upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: trace, debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}
