package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/bulk"
	"gitlab.diskarte.net/engineering/redis-admin/internal/codec"
	"gitlab.diskarte.net/engineering/redis-admin/internal/config"
	"gitlab.diskarte.net/engineering/redis-admin/internal/export"
	"gitlab.diskarte.net/engineering/redis-admin/internal/favorites"
	"gitlab.diskarte.net/engineering/redis-admin/internal/inspect"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
	"gitlab.diskarte.net/engineering/redis-admin/internal/scan"
)

var (
	fConfig      = flag.String("config", "", "Path to the config file (default ~/.redis-admin/config.yaml)")
	fEnv         = flag.String("env", "", "Environment name from the config")
	fBatch       = flag.Int("batch", scan.DefaultBatchSize, "SCAN batch size")
	fConcurrency = flag.Int("concurrency", bulk.DefaultConcurrency, "Parallel per-key actions")
	fType        = flag.String("type", "", "Filter: key type (string, hash, list, set, zset)")
	fTTLMax      = flag.Duration("ttl-max", 0, "Filter: maximum remaining ttl")
	fDedup       = flag.Bool("dedup", false, "Suppress keys the scan already returned")
	fDryRun      = flag.Bool("dry-run", false, "Report what would happen without mutating")
	fConfirm     = flag.Bool("confirm", false, "Skip the interactive confirmation prompt")
	fFormat      = flag.String("format", "", "Export format: json, csv or dump (default: by extension)")
	fOut         = flag.String("out", "", "Export destination file")
	fDestEnv     = flag.String("dest-env", "", "Copy destination environment")
	fDestPrefix  = flag.String("dest-prefix", "", "Prefix prepended to copied key names")
	fFavorites   = flag.String("favorites", "", "Reindexer dsn of the favorites store")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: redis-admin [flags] <command> [args]

commands:
  scan <pattern>           list keys with type, ttl, size and encoding
  get <key>                print one value, json pretty-printed
  del <pattern>            delete matching keys (asks for confirmation)
  copy <pattern>           copy matching keys (-dest-env and/or -dest-prefix)
  export <pattern>         write matching keys to -out
  import <file>            restore keys from an export file
  fav add <name> <pattern> save a pattern
  fav rm <name>            delete a saved pattern
  fav list                 list saved patterns

a <pattern> starting with @ is resolved from the favorites store.

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// .env is optional, used for REDIS_ADMIN_PASSWORD in dev setups
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		log.Printf("[INFO] shutdown signal received\n")
		cancel()
	}()

	if err := run(ctx, flag.Args()); err != nil {
		log.Printf("[ERROR] %s\n", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfgPath := *fConfig
	if cfgPath == "" {
		var err error
		if cfgPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	if cmd == "fav" {
		return runFav(rest)
	}

	env, err := cfg.Environment(*fEnv)
	if err != nil {
		return err
	}
	password := env.Redis.Password
	if p := os.Getenv("REDIS_ADMIN_PASSWORD"); p != "" {
		password = p
	}
	client, err := redis.New(redis.Options{
		Addr:     env.Redis.Addr(),
		Password: password,
		DB:       env.Redis.DB,
		TLS:      env.Redis.TLS,
		PoolSize: *fConcurrency,
		Timeout:  env.Redis.TimeoutDuration(),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		return err
	}

	switch cmd {
	case "scan":
		return runScan(ctx, client, rest)
	case "get":
		return runGet(ctx, client, rest)
	case "del":
		return runDel(ctx, client, rest)
	case "copy":
		return runCopy(ctx, client, cfg, rest)
	case "export":
		return runExport(ctx, client, rest)
	case "import":
		return runImport(ctx, client, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func filters() scan.Filters {
	f := scan.Filters{Dedup: *fDedup}
	if *fType != "" {
		f.Type = schema.ParseKeyType(*fType)
	}
	if *fTTLMax > 0 {
		f.TTLMax = *fTTLMax
	}
	return f
}

// resolvePattern expands @name favorites.
func resolvePattern(p string) (string, error) {
	if !strings.HasPrefix(p, "@") {
		return p, nil
	}
	store, err := openFavorites()
	if err != nil {
		return "", err
	}
	fav, ok := store.Get(strings.TrimPrefix(p, "@"))
	if !ok {
		return "", fmt.Errorf("favorite %q not found", p)
	}
	return fav.Pattern, nil
}

func patternArg(rest []string) (string, error) {
	if len(rest) != 1 {
		return "", errors.New("expected exactly one pattern argument")
	}
	return resolvePattern(rest[0])
}

func runScan(ctx context.Context, client *redis.Client, rest []string) error {
	pattern, err := patternArg(rest)
	if err != nil {
		return err
	}
	sess, err := scan.Open(client, pattern, *fBatch, filters())
	if err != nil {
		return err
	}
	insp := inspect.New(client, *fConcurrency)
	for !sess.Done() {
		batch, err := sess.NextBatch(ctx)
		if err != nil {
			return err
		}
		descs, err := insp.Detail(ctx, batch)
		if err != nil {
			return err
		}
		for _, d := range descs {
			fmt.Printf("%-48s %-8s ttl=%-12s size=%-10s enc=%s\n",
				d.Name, d.Type, ttlText(d.TTL), sizeText(d.ApproxSize), d.Encoding)
		}
	}
	log.Printf("[INFO] visited %d keys, matched %d\n", sess.Visited(), sess.Matched())
	return nil
}

func ttlText(ttl time.Duration) string {
	if ttl == schema.TTLNone {
		return "none"
	}
	return ttl.Truncate(time.Millisecond).String()
}

func sizeText(size int64) string {
	if size == schema.SizeUnknown {
		return "?"
	}
	return fmt.Sprintf("%dB", size)
}

func runGet(ctx context.Context, client *redis.Client, rest []string) error {
	if len(rest) != 1 {
		return errors.New("expected exactly one key argument")
	}
	insp := inspect.New(client, *fConcurrency)
	desc, err := insp.Describe(ctx, rest[0])
	if err != nil {
		return err
	}
	if desc, err = insp.DetailOne(ctx, desc); err != nil {
		return err
	}
	value, err := codec.New(client).Fetch(ctx, desc)
	if err != nil {
		return err
	}
	text, err := codec.ToText(value, codec.FormatJSON)
	if err != nil {
		return err
	}
	fmt.Printf("key: %s\ntype: %s\nttl: %s\n%s\n", desc.Name, desc.Type, ttlText(desc.TTL), text)
	return nil
}

// runBulk executes a request, handling the confirm-and-retry loop and
// rendering live progress.
func runBulk(ctx context.Context, orch *bulk.Orchestrator, req bulk.Request) error {
	rep, err := orch.Run(ctx, req)
	var need *schema.ConfirmationRequired
	if errors.As(err, &need) {
		if !*fConfirm && !promptYes(fmt.Sprintf("%s will affect %d keys, continue? [y/N] ", req.Action, need.Preview)) {
			log.Printf("[INFO] aborted\n")
			return nil
		}
		req.Confirmed = true
		bar := pb.StartNew(int(need.Preview))
		req.Progress = func(p schema.Progress) { bar.SetCurrent(p.Scanned) }
		rep, err = orch.Run(ctx, req)
		bar.Finish()
	}
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func printReport(rep *schema.Report) {
	log.Printf("[INFO] %s: scanned=%d succeeded=%d failed=%d skipped=%d in %s\n",
		rep.Status, rep.Scanned, rep.Succeeded, rep.Failed, rep.Skipped,
		rep.FinishedAt.Sub(rep.StartedAt).Truncate(time.Millisecond))
	const maxShown = 20
	for i, e := range rep.Errors {
		if i == maxShown {
			log.Printf("[INFO] ... and %d more\n", len(rep.Errors)-maxShown)
			break
		}
		log.Printf("[INFO]   %s: %s: %s\n", e.Key, e.Kind, e.Message)
	}
	if rep.Fatal != nil {
		log.Printf("[ERROR] run aborted: %s\n", rep.Fatal.Error())
	}
}

func promptYes(prompt string) bool {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	answer, err := line.Prompt(prompt)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func runDel(ctx context.Context, client *redis.Client, rest []string) error {
	pattern, err := patternArg(rest)
	if err != nil {
		return err
	}
	return runBulk(ctx, bulk.New(client), bulk.Request{
		Pattern:     pattern,
		Filters:     filters(),
		BatchSize:   *fBatch,
		Action:      bulk.ActionDelete,
		DryRun:      *fDryRun,
		Concurrency: *fConcurrency,
	})
}

func runCopy(ctx context.Context, client *redis.Client, cfg config.Config, rest []string) error {
	pattern, err := patternArg(rest)
	if err != nil {
		return err
	}
	if *fDestEnv == "" && *fDestPrefix == "" {
		return errors.New("copy needs -dest-env and/or -dest-prefix")
	}
	var dest *redis.Client
	if *fDestEnv != "" {
		env, err := cfg.Environment(*fDestEnv)
		if err != nil {
			return err
		}
		if dest, err = redis.New(redis.Options{
			Addr:     env.Redis.Addr(),
			Password: env.Redis.Password,
			DB:       env.Redis.DB,
			TLS:      env.Redis.TLS,
			PoolSize: *fConcurrency,
			Timeout:  env.Redis.TimeoutDuration(),
		}); err != nil {
			return err
		}
		defer dest.Close()
	}
	return runBulk(ctx, bulk.New(client), bulk.Request{
		Pattern:     pattern,
		Filters:     filters(),
		BatchSize:   *fBatch,
		Action:      bulk.ActionCopy,
		Dest:        dest,
		DestPrefix:  *fDestPrefix,
		DryRun:      *fDryRun,
		Concurrency: *fConcurrency,
	})
}

func runExport(ctx context.Context, client *redis.Client, rest []string) error {
	pattern, err := patternArg(rest)
	if err != nil {
		return err
	}
	if *fOut == "" {
		return errors.New("export needs -out")
	}
	format := export.Format(*fFormat)
	if format == "" {
		if format, err = export.DetectFormat(*fOut); err != nil {
			return err
		}
	}
	action := bulk.ActionExport
	if format == export.FormatDump {
		action = bulk.ActionDump
	}
	return runBulk(ctx, bulk.New(client), bulk.Request{
		Pattern:     pattern,
		Filters:     filters(),
		BatchSize:   *fBatch,
		Action:      action,
		Format:      format,
		Path:        *fOut,
		DryRun:      *fDryRun,
		Concurrency: *fConcurrency,
	})
}

func runImport(ctx context.Context, client *redis.Client, rest []string) error {
	if len(rest) != 1 {
		return errors.New("expected exactly one file argument")
	}
	return runBulk(ctx, bulk.New(client), bulk.Request{
		Action:      bulk.ActionRestore,
		Format:      export.Format(*fFormat),
		Path:        rest[0],
		DryRun:      *fDryRun,
		Concurrency: *fConcurrency,
	})
}

func openFavorites() (*favorites.Store, error) {
	dsn := *fFavorites
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dsn = "builtin://" + home + "/.redis-admin/favorites"
	}
	return favorites.Open(dsn, "favorites")
}

func runFav(rest []string) error {
	if len(rest) == 0 {
		return errors.New("expected fav subcommand: add, rm or list")
	}
	store, err := openFavorites()
	if err != nil {
		return err
	}
	switch rest[0] {
	case "add":
		if len(rest) != 3 {
			return errors.New("usage: fav add <name> <pattern>")
		}
		if err := schema.ValidatePattern(rest[2]); err != nil {
			return err
		}
		return store.Put(rest[1], rest[2])
	case "rm":
		if len(rest) != 2 {
			return errors.New("usage: fav rm <name>")
		}
		existed, err := store.Delete(rest[1])
		if err != nil {
			return err
		}
		if !existed {
			log.Printf("[INFO] favorite %q not found\n", rest[1])
		}
		return nil
	case "list":
		favs, err := store.List()
		if err != nil {
			return err
		}
		for _, f := range favs {
			fmt.Printf("%-24s %s\n", f.Name, f.Pattern)
		}
		return nil
	default:
		return fmt.Errorf("unknown fav subcommand %q", rest[0])
	}
}
