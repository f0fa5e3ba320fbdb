package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pbaille/pagesync/internal/api"
	"github.com/pbaille/pagesync/internal/cache"
	"github.com/pbaille/pagesync/internal/config"
	"github.com/pbaille/pagesync/internal/content"
	"github.com/pbaille/pagesync/internal/cycle"
	"github.com/pbaille/pagesync/internal/domain"
	"github.com/pbaille/pagesync/internal/fetcher"
	"github.com/pbaille/pagesync/internal/reader"
	"github.com/pbaille/pagesync/internal/remote"
	"github.com/pbaille/pagesync/internal/store"
	"github.com/spf13/cobra"
)

var cfg config.Config

func main() {
	home, _ := os.UserHomeDir()
	loaded, err := config.Load(home)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg = loaded

	rootCmd := &cobra.Command{
		Use:   "pagesync",
		Short: "Cache-first reader for chapter and page content",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := cfg.Level()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ContentURL, "content-url", cfg.ContentURL, "blob store base URL")
	flags.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "record store API base URL")
	flags.StringVar(&cfg.Cache, "cache", cfg.Cache, "cache backend (memory, bolt, redis)")
	flags.StringVar(&cfg.CachePath, "cache-path", cfg.CachePath, "bolt cache file")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(warmCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(chapterCmd())
	rootCmd.AddCommand(pageCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// client bundles the reader stack a command runs against.
type client struct {
	cache      *cache.Store
	cycles     *cycle.Controller
	blobs      *fetcher.Client
	records    *remote.Records
	reconciler *reader.Reconciler
	writer     *reader.Writer
	prefetch   *reader.Prefetcher
}

func getClient(ctx context.Context) (*client, error) {
	opts := cfg.CacheOptions()
	if opts.Kind == cache.KindBolt {
		if err := config.EnsureDir(opts.Path); err != nil {
			return nil, err
		}
	}
	backend, err := cache.OpenBackend(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	blobs, err := fetcher.New(cfg.ContentURL, cfg.APIURL, httpClient)
	if err != nil {
		backend.Close()
		return nil, err
	}
	records, err := remote.NewRecords(cfg.APIURL, httpClient)
	if err != nil {
		backend.Close()
		return nil, err
	}

	logger := slog.Default()
	c := &client{
		cache:   cache.New(backend, logger),
		cycles:  cycle.NewController(ctx),
		blobs:   blobs,
		records: records,
	}
	c.reconciler = reader.NewReconciler(records, logger)
	c.writer = reader.NewWriter(c.cache, c.cycles)
	c.prefetch = reader.NewPrefetcher(c.cache, blobs, c.writer, cfg.PrefetchLimit, logger)
	return c, nil
}

func (c *client) Close() error {
	return c.cache.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blob store and record store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.EnsureDir(cfg.DBPath); err != nil {
				return err
			}
			s, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			dir, err := content.Open(cfg.ContentDir)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			return api.New(s, dir, cfg.Addr, slog.Default()).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "server address")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "database path")
	cmd.Flags().StringVar(&cfg.ContentDir, "content-dir", cfg.ContentDir, "markdown directory")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [slug]",
		Short: "Print a page, from cache when fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, err := getClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			loader := reader.NewPageLoader(c.cycles, c.cache, c.blobs, c.reconciler, c.writer)
			out := loader.Open(args[0], nil).Wait()
			state := loader.State()

			if state.Err != nil {
				return state.Err
			}
			if state.SyncErr != nil {
				warning("showing cached copy: %v", state.SyncErr)
			}
			if !state.HasContent {
				return fmt.Errorf("page %s: %s", args[0], out.Phase)
			}
			fmt.Println(state.Content)
			return nil
		},
	}
}

func warmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm [chapter]",
		Short: "Prefetch every page of a chapter into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, err := getClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			load, err := reader.NewChapterLoader(c.reconciler, c.prefetch, slog.Default()).Load(ctx, args[0])
			if err != nil {
				return err
			}
			if len(load.Pages) == 0 {
				fmt.Println("Chapter has no pages.")
				return nil
			}

			results := []reader.WarmResult{*load.First}
			results = append(results, <-load.Background...)
			for i, r := range results {
				fmt.Printf("%3d  %-30s %s\n", load.Pages[i].IndexNum, r.Slug, warmStatus(r.Fetched, r.Err))
			}
			return nil
		},
	}
}

func saveCmd() *cobra.Command {
	var (
		file string
		free string
	)

	cmd := &cobra.Command{
		Use:   "save [slug]",
		Short: "Save page markdown from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(file)
			if err != nil {
				return err
			}
			isFree, err := parseFree(free)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			c, err := getClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			editor := reader.NewEditor(c.blobs, c.records, c.writer, nil, slog.Default())
			stamp, err := editor.Save(ctx, args[0], body, isFree)
			if err != nil {
				return err
			}
			success("Saved %s at %s", args[0], stamp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "markdown file, - for stdin")
	cmd.Flags().StringVar(&free, "free", "", "set free access (true or false)")
	return cmd
}

func cacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache [slug]",
		Short: "Show what the local cache holds for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getClient(context.Background())
			if err != nil {
				return err
			}
			defer c.Close()

			entry, ok := c.cache.Entry(args[0])
			if !ok {
				fmt.Printf("%s is not cached\n", args[0])
				return nil
			}
			fmt.Printf("Slug:       %s\n", entry.Slug)
			fmt.Printf("Updated at: %s\n", stampOrNone(string(entry.VersionStamp)))
			fmt.Printf("Content:    %s\n", truncate(entry.Content, 80))
			return nil
		},
	}
}

func chapterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapter",
		Short: "Manage chapters",
	}

	var (
		slug  string
		index int
	)
	create := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a chapter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			if slug == "" {
				slug = content.SanitizeSlug(title)
			}

			ctx, stop := signalContext()
			defer stop()

			c, err := getClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			ch, err := c.records.CreateChapter(ctx, title, slug, index)
			if err != nil {
				return err
			}
			success("Created chapter %s (%s)", ch.Slug, ch.ID)
			return nil
		},
	}
	create.Flags().StringVar(&slug, "slug", "", "chapter slug (derived from title when empty)")
	create.Flags().IntVarP(&index, "index", "i", 0, "position in the book")

	cmd.AddCommand(create)
	return cmd
}

func pageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Manage pages",
	}

	var (
		chapter string
		slug    string
		index   int
		free    bool
	)
	create := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a page record and its markdown",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			if slug == "" {
				slug = content.SanitizeSlug(title)
			}

			ctx, stop := signalContext()
			defer stop()

			c, err := getClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.blobs.Create(ctx, slug, title, ""); err != nil {
				return fmt.Errorf("create markdown: %w", err)
			}
			page, err := c.records.CreatePage(ctx, chapter, domain.PageMeta{
				Title:    title,
				Slug:     slug,
				IndexNum: index,
				IsFree:   free,
			})
			if err != nil {
				return err
			}
			success("Created page %s (%s)", page.Slug, page.UpdatedAt)
			return nil
		},
	}
	create.Flags().StringVarP(&chapter, "chapter", "c", "", "chapter slug")
	create.Flags().StringVar(&slug, "slug", "", "page slug (derived from title when empty)")
	create.Flags().IntVarP(&index, "index", "i", 0, "position in the chapter")
	create.Flags().BoolVar(&free, "free", false, "readable without a subscription")
	create.MarkFlagRequired("chapter")

	cmd.AddCommand(create)
	return cmd
}

func readInput(file string) (string, error) {
	if file == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(b), nil
}

func parseFree(s string) (*bool, error) {
	switch s {
	case "":
		return nil, nil
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("--free must be true or false, got %q", s)
	}
}

// truncate shortens s to max runes for one-line display.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
