package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatroom/internal/config"
	"chatroom/internal/jwtsigner"
	impl "chatroom/internal/service/impl"
	"chatroom/internal/store"
	"chatroom/internal/sweeper"
	"chatroom/pkg/db"
)

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Load(), os.Args[1:], os.Stdout); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintln(os.Stderr, uerr.Error())
			usage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [options]\n", "chatctl")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  migrate                          Create or update the schema")
	fmt.Fprintln(w, "  sweep                            Expire and purge dead credentials once")
	fmt.Fprintln(w, "  presence list                    Show the online roster")
	fmt.Fprintln(w, "  presence purge [-older-than d]   Remove presence records (all, or idle for d)")
	fmt.Fprintln(w, "  tokens list -user name [-live]   Show a user's credentials")
	fmt.Fprintln(w, "  messages tail [-n N]             Show the newest messages of any kind")
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError{"missing command"}
	}

	gdb, err := db.OpenGorm(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	st := store.New(gdb)

	switch args[0] {
	case "migrate":
		if err := st.AutoMigrate(ctx); err != nil {
			return err
		}
		return printJSON(out, map[string]any{"migrated": len(store.Models())})
	case "sweep":
		return runSweep(ctx, cfg, st, out)
	case "presence":
		return runPresence(ctx, st, args[1:], out)
	case "tokens":
		return runTokens(ctx, st, args[1:], out)
	case "messages":
		return runMessages(ctx, st, args[1:], out)
	default:
		return usageError{fmt.Sprintf("unknown command %q", args[0])}
	}
}

func runSweep(ctx context.Context, cfg config.Config, st *store.Store, out io.Writer) error {
	signer, err := jwtsigner.NewFromBase64(cfg.SigningKey, cfg.SigningKeyID, cfg.Issuer)
	if err != nil {
		return err
	}
	tokens := impl.NewTokenServiceImpl(impl.TokenConfig{AccessTTL: cfg.AccessTTL, StoreTimeout: cfg.StoreTimeout}, signer, st)
	res, err := sweeper.Once(ctx, tokens, cfg.StoreTimeout)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runPresence(ctx context.Context, st *store.Store, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError{"presence: missing subcommand"}
	}
	switch args[0] {
	case "list":
		rows, err := st.Presence().ListAll(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, rows)
	case "purge":
		fs := newFlagSet("presence purge")
		olderThan := fs.Duration("older-than", 0, "only remove records idle for at least this long")
		if err := parse(fs, args[1:]); err != nil {
			return err
		}
		var (
			n   int64
			err error
		)
		if *olderThan > 0 {
			n, err = st.Presence().DeleteStale(ctx, time.Now().UTC().Add(-*olderThan))
		} else {
			n, err = st.Presence().DeleteAll(ctx)
		}
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"removed": n})
	default:
		return usageError{fmt.Sprintf("presence: unknown subcommand %q", args[0])}
	}
}

func runTokens(ctx context.Context, st *store.Store, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] != "list" {
		return usageError{"tokens: expected \"list\""}
	}
	fs := newFlagSet("tokens list")
	username := fs.String("user", "", "username")
	liveOnly := fs.Bool("live", false, "only live credentials")
	if err := parse(fs, args[1:]); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return usageError{"tokens list: -user is required"}
	}

	account, err := st.Accounts().GetByUsername(ctx, *username)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no such user %q", *username)
	}
	creds, err := st.Credentials().ListForUser(ctx, account.ID, *liveOnly, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(out, creds)
}

func runMessages(ctx context.Context, st *store.Store, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] != "tail" {
		return usageError{"messages: expected \"tail\""}
	}
	fs := newFlagSet("messages tail")
	n := fs.Int("n", 20, "number of messages")
	if err := parse(fs, args[1:]); err != nil {
		return err
	}
	msgs, err := st.Messages().Tail(ctx, *n)
	if err != nil {
		return err
	}
	return printJSON(out, msgs)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{fmt.Sprintf("%s: %v", fs.Name(), err)}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
