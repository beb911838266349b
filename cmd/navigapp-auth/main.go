package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/navigapp/navigapp-server-go/internal/authclient"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

type clientConfig struct {
	APIURL          string `env:"NAVIGAPP_API_URL" envDefault:"http://localhost:8080"`
	BotUsername     string `env:"NAVIGAPP_BOT_USERNAME" envDefault:"navigapp_bot"`
	CredentialsPath string `env:"NAVIGAPP_CREDENTIALS_PATH"`
	CredentialsKey  string `env:"NAVIGAPP_CREDENTIALS_KEY"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg clientConfig, cmd string, args []string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// One-shot commands rotate explicitly; a background timer would only race them.
	orch := authclient.New(authclient.NewAPIClient(cfg.APIURL, nil), store, cfg.BotUsername,
		authclient.WithoutScheduler(),
	)
	defer orch.Close()
	orch.OnChange(func(s authclient.State) {
		if s.Error != "" {
			fmt.Fprintln(os.Stderr, "auth:", s.Error)
		}
	})
	if err := orch.Restore(); err != nil {
		return err
	}

	switch cmd {
	case "link":
		fmt.Println(orch.InitiateBotAuth())
		return nil
	case "complete":
		return cmdComplete(ctx, orch, args)
	case "launch":
		return cmdLaunch(ctx, orch, args)
	case "webapp":
		return cmdWebApp(ctx, orch, args)
	case "refresh":
		if err := orch.RefreshToken(ctx); err != nil {
			return err
		}
		printState(orch.State())
		return nil
	case "whoami":
		return cmdWhoami(ctx, orch)
	case "status":
		printState(orch.State())
		return nil
	case "logout":
		return orch.Logout(ctx)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openStore(cfg clientConfig) (*authclient.BoltStore, error) {
	path := cfg.CredentialsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".navigapp", "credentials.db")
	}

	var opts []authclient.StoreOption
	if cfg.CredentialsKey != "" {
		sealer, err := util.NewSealer(cfg.CredentialsKey)
		if err != nil {
			return nil, fmt.Errorf("NAVIGAPP_CREDENTIALS_KEY: %w", err)
		}
		opts = append(opts, authclient.WithSealer(sealer))
	}
	return authclient.OpenStore(path, opts...)
}

func cmdComplete(ctx context.Context, orch *authclient.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	hash := fs.String("hash", "", "auth hash from the bot deep link")
	userData := fs.String("user-data", "", "optional Telegram user object as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hash == "" {
		return fmt.Errorf("hash is required")
	}

	var raw []byte
	if *userData != "" {
		if !gjson.Valid(*userData) {
			return fmt.Errorf("user-data is not valid JSON")
		}
		raw = []byte(*userData)
	}
	if err := orch.CompleteBotAuth(ctx, *hash, raw); err != nil {
		return err
	}
	printState(orch.State())
	return nil
}

func cmdLaunch(ctx context.Context, orch *authclient.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	launchURL := fs.String("url", "", "deep link the web app was opened with")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *launchURL == "" {
		return fmt.Errorf("url is required")
	}

	cleaned, err := orch.HandleLaunchURL(ctx, *launchURL)
	fmt.Println(cleaned)
	if err != nil {
		return err
	}
	printState(orch.State())
	return nil
}

func cmdWebApp(ctx context.Context, orch *authclient.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("webapp", flag.ContinueOnError)
	initData := fs.String("init-data", "", "signed Telegram WebApp init data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := orch.AuthenticateWebApp(ctx, *initData); err != nil {
		return err
	}
	printState(orch.State())
	return nil
}

func cmdWhoami(ctx context.Context, orch *authclient.Orchestrator) error {
	req, err := orch.NewRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return err
	}
	resp, err := orch.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return fmt.Errorf("%s", gjson.GetBytes(body, "error.message").String())
	}
	user := gjson.GetBytes(body, "data.user")
	fmt.Printf("id:          %s\n", user.Get("id").String())
	fmt.Printf("telegram_id: %s\n", user.Get("telegram_id").String())
	fmt.Printf("name:        %s\n", user.Get("first_name").String())
	fmt.Printf("plan:        %s\n", user.Get("subscription_type").String())
	return nil
}

func printState(s authclient.State) {
	if !s.Authenticated {
		fmt.Println("signed out")
		return
	}
	name := ""
	if s.User != nil && s.User.FirstName != nil {
		name = *s.User.FirstName
	}
	fmt.Printf("signed in via %s as %s\n", s.AuthMethod, name)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: navigapp-auth <command> [flags]

commands:
  link                       print the bot link that starts sign-in
  complete -hash H           redeem a handshake hash
  launch -url U              complete from a deep link and print it cleaned
  webapp -init-data D        sign in with signed WebApp init data
  refresh                    rotate the stored token pair
  whoami                     show the signed-in user
  status                     show local sign-in state
  logout                     end the session and clear credentials`)
}
