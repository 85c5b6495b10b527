package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hearth/internal/assistant"
	"github.com/samcharles93/hearth/internal/logger"
)

func assistInput(cmd *cli.Command, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if text == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return text, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}

// reportResponseError shows the raw model output behind a decode failure.
func reportResponseError(err error) error {
	var respErr *assistant.ResponseError
	if errors.As(err, &respErr) {
		fmt.Fprintf(os.Stderr, "model output: %q\n", respErr.Raw)
	}
	return err
}

func assistCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "assist",
		Usage:     "Turn a spoken car request into a vehicle command",
		ArgsUsage: "REQUEST",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the full response as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			request, err := assistInput(cmd, "request")
			if err != nil {
				return err
			}
			o, err := openChat(ctx, -1)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			a := assistant.New(o, logger.FromContext(ctx))
			res, err := a.Vehicle(ctx, request)
			if err != nil {
				return reportResponseError(err)
			}
			if asJSON {
				return printJSON(res)
			}
			fmt.Println(res.Message)
			fmt.Println(res.Command)
			return nil
		},
	}
}

func emotionCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "emotion",
		Usage:     "Score joy, anger and sadness in a review",
		ArgsUsage: "REVIEW",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the scores as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			review, err := assistInput(cmd, "review")
			if err != nil {
				return err
			}
			o, err := openChat(ctx, -1)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			a := assistant.New(o, logger.FromContext(ctx))
			e, err := a.Emotion(ctx, review)
			if err != nil {
				return reportResponseError(err)
			}
			if asJSON {
				return printJSON(e)
			}
			fmt.Printf("joy:     %d\nanger:   %d\nsadness: %d\n", e.Joy, e.Anger, e.Sadness)
			return nil
		},
	}
}
