// Command ratesctl runs maintenance tasks against the Redis rate store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"rates-engine/internal/adapter/cache"
	"rates-engine/internal/config"
	"rates-engine/internal/domain/model"
	"rates-engine/internal/engine"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

const usage = `usage: ratesctl <command> [flags]

commands:
  load-config            write configured sources and currencies to redis
  delete-nulls [-match]  delete cached rates without a value
  fix-bridged  [-match]  set bridged=true on rates with a composite source
  get <market> [date]    print a cached rate, e.g. get USD-CLP 2020-01-01
`

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	keyColor  = color.New(color.FgCyan)
)

type ctl struct {
	cfg     *config.Config
	store   *cache.RedisStore
	sources *cache.RedisSources
	out     io.Writer
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		color.Red("failed to load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	client, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		color.Red("failed to create redis client: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	c := &ctl{
		cfg:     cfg,
		store:   cache.NewRedisStore(client, cfg.Redis.Prefix, log),
		sources: cache.NewRedisSources(client, log),
		out:     os.Stdout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := c.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		color.Red("%s: %v", os.Args[1], err)
		cancel()
		os.Exit(1)
	}
}

func (c *ctl) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "load-config":
		return c.loadConfig(ctx)
	case "delete-nulls":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		match := fs.String("match", "", "only keys starting with this rate key prefix, e.g. USD-CLP")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.deleteNulls(ctx, *match)
	case "fix-bridged":
		fs := flag.NewFlagSet(command, flag.ContinueOnError)
		match := fs.String("match", "", "only keys starting with this rate key prefix, e.g. USD-CLP")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.fixBridged(ctx, *match)
	case "get":
		return c.get(ctx, args)
	}
	return fmt.Errorf("unknown command %q\n%s", command, usage)
}

func (c *ctl) loadConfig(ctx context.Context) error {
	currencies := make([]model.Currency, 0, len(c.cfg.Currencies))
	for _, code := range c.cfg.Currencies {
		currencies = append(currencies, model.Currency(strings.ToUpper(code)))
	}
	if err := c.sources.Load(ctx, c.cfg.Sources, currencies); err != nil {
		return err
	}
	okColor.Fprintf(c.out, "loaded %d sources and %d currencies\n", len(c.cfg.Sources), len(currencies))
	return nil
}

func (c *ctl) deleteNulls(ctx context.Context, match string) error {
	var keys []string
	err := c.store.ScanRates(ctx, match, func(rawKey string, rate model.CachedRate) error {
		if rate.Value == nil {
			keys = append(keys, rawKey)
		}
		return nil
	})
	if err != nil {
		return err
	}

	deleted, err := c.store.DeleteRaw(ctx, keys...)
	if err != nil {
		return err
	}
	okColor.Fprintf(c.out, "deleted %d null rates\n", deleted)
	return nil
}

func (c *ctl) fixBridged(ctx context.Context, match string) error {
	fixed := 0
	err := c.store.ScanRates(ctx, match, func(rawKey string, rate model.CachedRate) error {
		bridged := strings.Contains(rate.Source, ",")
		if rate.Bridged == bridged {
			return nil
		}
		rate.Bridged = bridged
		if err := c.store.RewriteRaw(ctx, rawKey, rate); err != nil {
			return err
		}
		fixed++
		warnColor.Fprintf(c.out, "fixed %s\n", rawKey)
		return nil
	})
	if err != nil {
		return err
	}
	okColor.Fprintf(c.out, "fixed %d rates\n", fixed)
	return nil
}

func (c *ctl) get(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing market")
	}
	market, err := model.MarketFromID(strings.ToUpper(args[0]))
	if err != nil {
		return err
	}

	key := engine.LiveKey(market)
	if len(args) > 1 {
		date, err := utils.ParseDate(args[1])
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", args[1], err)
		}
		key = engine.HistoricalKey(market, date)
	}

	rate, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if rate == nil {
		warnColor.Fprintf(c.out, "%s: not cached\n", key)
		return nil
	}

	keyColor.Fprintf(c.out, "%s", key)
	value := "null"
	if rate.Value != nil {
		value = fmt.Sprintf("%g", *rate.Value)
	}
	fmt.Fprintf(c.out, " value=%s source=%s date=%s bridged=%t\n", value, rate.Source, rate.Date, rate.Bridged)
	return nil
}
