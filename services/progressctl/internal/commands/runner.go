// Package commands holds the progressctl command tree and its actions.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/example/course-platform/internal/progressclient"
)

// Runner holds the dependencies of every command action.
type Runner struct {
	logger     *zap.Logger
	output     io.Writer
	httpClient *http.Client
	now        func() time.Time
}

type RunnerOpts struct {
	Logger *zap.Logger
	Output io.Writer
	// HTTPClient is passed to progressclient. Nil selects its default.
	HTTPClient *http.Client
	Now        func() time.Time
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{logger: opts.Logger, output: opts.Output, httpClient: opts.HTTPClient, now: opts.Now}
}

// App returns the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:  "progressctl",
		Usage: "Inspect and drive watch progress through the BFF",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "BFF base URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("PROGRESS_BFF_URL"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token",
				Sources: cli.EnvVars("PROGRESS_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		tokenCommand, getCommand, commitCommand, listCommand, replayCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) client(cmd *cli.Command) *progressclient.Client {
	return progressclient.New(cmd.String("url"), progressclient.Options{
		Token:      cmd.String("token"),
		HTTPClient: r.httpClient,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
