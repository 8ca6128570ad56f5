// Command sessiondemo drives an authsession.Session from the command line.
//
//	sessiondemo [-config path] [-store keyring|file] <command> [args]
//
// Commands: login <email>, register <email>, logout, status, profile,
// medications, fakeapi [addr]. Passwords are read from HEARTPATH_PASSWORD.
// A .env file in the working directory is loaded first.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	as "github.com/heartpath/authsession"
	"github.com/heartpath/authsession/clients"
	"github.com/heartpath/authsession/config"
	"github.com/heartpath/authsession/internal/fakeapi"
	fsstore "github.com/heartpath/authsession/stores/fs"
	gormstore "github.com/heartpath/authsession/stores/gorm"
	keyringstore "github.com/heartpath/authsession/stores/keyring"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to a YAML config file")
	storeKind := flag.String("store", "keyring", "secret store: keyring or file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sessiondemo [-config path] [-store keyring|file] <login|register|logout|status|profile|medications|fakeapi> [args]")
		os.Exit(2)
	}

	if args[0] == "fakeapi" {
		addr := "127.0.0.1:8080"
		if len(args) > 1 {
			addr = args[1]
		}
		runFakeAPI(addr)
		return
	}

	cfg := config.MustLoad(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	session, err := openSession(cfg, *storeKind, logger)
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}

	if err := run(context.Background(), session, args); err != nil {
		if as.IsLoginRequired(err) {
			fmt.Fprintln(os.Stderr, "not signed in: run `sessiondemo login <email>`")
			os.Exit(1)
		}
		log.Fatal(err)
	}
}

func openSession(cfg *config.Config, storeKind string, logger *slog.Logger) (*as.Session, error) {
	var store as.SecureStore
	switch storeKind {
	case "keyring":
		ring, err := keyringstore.Open(keyringstore.Config{
			ServiceName:  cfg.Keyring.ServiceName,
			Backend:      cfg.Keyring.Backend,
			FileDir:      cfg.Keyring.FileDir,
			FilePassword: os.Getenv("HEARTPATH_KEYRING_PASSWORD"),
		})
		if err != nil {
			return nil, err
		}
		store = keyringstore.New(ring, logger)
	case "file":
		key, err := hex.DecodeString(os.Getenv("HEARTPATH_STORE_KEY"))
		if err != nil {
			return nil, fmt.Errorf("HEARTPATH_STORE_KEY must be hex: %w", err)
		}
		fstore, err := fsstore.NewStore("", "heartpath", key, logger)
		if err != nil {
			return nil, err
		}
		store = fstore
	default:
		return nil, fmt.Errorf("unknown store %q", storeKind)
	}

	if dir := filepath.Dir(cfg.Preferences.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create preferences directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(cfg.Preferences.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate preferences: %w", err)
	}

	return as.New(cfg.BaseURL, store,
		as.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		as.WithRefreshTimeout(cfg.RefreshTimeout),
		as.WithPreferences(gormstore.NewPreferencesStore(db)),
		as.WithLogger(logger),
	), nil
}

func run(ctx context.Context, session *as.Session, args []string) error {
	switch args[0] {
	case "login":
		if len(args) < 2 {
			return errors.New("usage: login <email>")
		}
		if err := session.Login(ctx, args[1], os.Getenv("HEARTPATH_PASSWORD")); err != nil {
			return err
		}
		return printJSON(session.State().Status())

	case "register":
		if len(args) < 2 {
			return errors.New("usage: register <email>")
		}
		err := session.Register(ctx, as.RegisterRequest{Email: args[1], Password: os.Getenv("HEARTPATH_PASSWORD")})
		if err != nil {
			return err
		}
		return printJSON(session.State().Status())

	case "logout":
		return session.Logout()

	case "status":
		out := map[string]any{"status": session.State().Status()}
		if exp, ok := session.AccessTokenExpiry(); ok {
			out["access_token_expires"] = exp
		}
		return printJSON(out)

	case "profile":
		p, err := clients.NewProfile(session).Get(ctx)
		if err != nil {
			return err
		}
		return printJSON(p)

	case "medications":
		meds, err := clients.NewMedications(session).List(ctx)
		if err != nil {
			return err
		}
		return printJSON(meds)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func runFakeAPI(addr string) {
	api := fakeapi.New()
	log.Printf("fake HeartPath API listening on http://%s", addr)
	log.Fatal(http.ListenAndServe(addr, api.Handler()))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
