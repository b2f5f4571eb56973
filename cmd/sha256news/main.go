package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"sha256news/internal/app"
	"sha256news/internal/config"
	"sha256news/internal/domain"
	"sha256news/internal/logging"
)

const usage = `usage: sha256news <command> [flags]

commands:
  fetch        fetch one batch of mining news and report novelty
  synthesize   generate an article from a JSON file of news items
  publish      push an article JSON file to the configured targets
  run          execute the full pipeline once
  runs         list recent pipeline runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.Load()
	logger := logging.New(cfg.Logging.LevelOrDefault())

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := dispatch(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, application *app.Application, command string, args []string) error {
	switch command {
	case "fetch":
		return runFetch(ctx, application)
	case "synthesize":
		return runSynthesize(ctx, application, args)
	case "publish":
		return runPublish(ctx, application, args)
	case "run":
		return runPipeline(ctx, application, args)
	case "runs":
		return runList(ctx, application, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runFetch(ctx context.Context, application *app.Application) error {
	items, err := application.FetchNews(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"items_found": len(items),
		"items":       items,
	})
}

func runSynthesize(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("synthesize", flag.ExitOnError)
	input := fs.String("input", "-", "path to a JSON array of news items (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var items []domain.NewsItem
	if err := readJSON(*input, &items); err != nil {
		return err
	}

	article, err := application.SynthesizeArticle(ctx, items)
	if err != nil {
		return err
	}
	return printJSON(article)
}

func runPublish(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	input := fs.String("input", "-", "path to an article JSON file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var article domain.Article
	if err := readJSON(*input, &article); err != nil {
		return err
	}
	if article.ID == "" {
		article.ID = domain.ArticleID(article.Title)
	}

	return printJSON(application.Publish(ctx, article))
}

func runPipeline(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	draft := fs.Bool("draft", false, "stop after synthesis without publishing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	record, err := application.RunPipeline(ctx, *draft)
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runList(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	n := fs.Int("n", 10, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, err := application.RecentRuns(ctx, *n)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func readJSON(path string, v any) error {
	var reader io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		reader = file
	}

	if err := json.NewDecoder(reader).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
