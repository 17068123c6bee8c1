package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/progress"
	"github.com/example/course-platform/services/progressctl/internal/replay"
)

var errVideoRequired = errors.New("video id is required")

func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a development bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "HS256 signing secret",
				Sources:  cli.EnvVars("JWT_SECRET"),
				Required: true,
			},
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User id placed in the subject claim",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: time.Hour,
			},
		},
		Action: r.Token,
	}
}

func getCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the caller's progress for a video",
		Arguments: []cli.Argument{&cli.StringArg{Name: "video"}},
		Action:    r.Get,
	}
}

func commitCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "commit",
		Usage:     "Commit one watched interval",
		Arguments: []cli.Argument{&cli.StringArg{Name: "video"}},
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "start", Usage: "Interval start in seconds", Required: true},
			&cli.FloatFlag{Name: "end", Usage: "Interval end in seconds", Required: true},
			&cli.FloatFlag{Name: "duration", Usage: "Video duration in seconds", Required: true},
			&cli.FloatFlag{Name: "position", Usage: "Resume position override in seconds", Value: -1},
			&cli.BoolFlag{Name: "beacon", Usage: "Send through the queued beacon route"},
		},
		Action: r.Commit,
	}
}

func listCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recently watched videos",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Page size", Value: 25},
			&cli.StringFlag{Name: "cursor", Usage: "Cursor from a previous page"},
		},
		Action: r.List,
	}
}

func replayCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a YAML playback script through a simulated player",
		Arguments: []cli.Argument{&cli.StringArg{Name: "script"}},
		Action:    r.Replay,
	}
}

func (r *Runner) Token(_ context.Context, cmd *cli.Command) error {
	tok, exp, err := auth.Issuer{Secret: []byte(cmd.String("secret")), TTL: cmd.Duration("ttl")}.Issue(cmd.String("user"), r.now())
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	return r.writeJSON(map[string]any{"token": tok, "expires_at": exp.UTC().Format(time.RFC3339)}, cmd.Bool("pretty"))
}

func (r *Runner) Get(ctx context.Context, cmd *cli.Command) error {
	video := strings.TrimSpace(cmd.StringArg("video"))
	if video == "" {
		return errVideoRequired
	}
	rec, err := r.client(cmd).FetchProgress(ctx, video)
	if err != nil {
		return err
	}
	return r.writeJSON(rec, cmd.Bool("pretty"))
}

func (r *Runner) Commit(ctx context.Context, cmd *cli.Command) error {
	video := strings.TrimSpace(cmd.StringArg("video"))
	if video == "" {
		return errVideoRequired
	}
	c := progress.Commit{
		Interval:      progress.Interval{Start: cmd.Float("start"), End: cmd.Float("end")},
		VideoDuration: cmd.Float("duration"),
	}
	if pos := cmd.Float("position"); pos >= 0 {
		c.LastPosition = &pos
	}
	if err := c.Validate(); err != nil {
		return err
	}

	client := r.client(cmd)
	if cmd.Bool("beacon") {
		eventID, err := client.Beacon(ctx, video, c)
		if err != nil {
			return err
		}
		r.logger.Info("beacon sent")
		return r.writeJSON(map[string]any{"queued": eventID != "", "event_id": eventID}, cmd.Bool("pretty"))
	}
	rec, err := client.CommitProgress(ctx, video, c)
	if err != nil {
		return err
	}
	return r.writeJSON(rec, cmd.Bool("pretty"))
}

func (r *Runner) List(ctx context.Context, cmd *cli.Command) error {
	page, err := r.client(cmd).List(ctx, cmd.Int("limit"), cmd.String("cursor"))
	if err != nil {
		return err
	}
	return r.writeJSON(page, cmd.Bool("pretty"))
}

func (r *Runner) Replay(ctx context.Context, cmd *cli.Command) error {
	path := strings.TrimSpace(cmd.StringArg("script"))
	if path == "" {
		return errors.New("script path is required")
	}
	script, err := replay.Load(path)
	if err != nil {
		return err
	}
	res, err := replay.Run(ctx, script, r.client(cmd), r.logger)
	if err != nil {
		return err
	}
	return r.writeJSON(res, cmd.Bool("pretty"))
}
