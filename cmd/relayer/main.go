package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/config"
	"github.com/gasless-labs/feepayer/internal/http_api"
	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/internal/notificator"
	"github.com/gasless-labs/feepayer/internal/relayer"
	"github.com/gasless-labs/feepayer/internal/repository"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Fee delegation relay and settlement service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "network", Aliases: []string{"n"}, Usage: "Network mode (mainnet or testnet)"},
			&cli.StringFlag{Name: "rpc-urls", Aliases: []string{"r"}, Usage: "Comma separated network endpoint URLs"},
			&cli.StringFlag{Name: "chain-id", Usage: "Chain ID"},
			&cli.IntFlag{Name: "port", Usage: "HTTP API port"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.BoolFlag{Name: "in-memory", Usage: "Use an in-memory policy store instead of Postgres"},
			&cli.StringFlag{Name: "seed", Usage: "JSON fixture loaded into the in-memory policy store"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("network") {
		cfg.Network = strings.ToLower(c.String("network"))
	}
	if c.IsSet("rpc-urls") {
		cfg.RPCURLs = config.SplitList(c.String("rpc-urls"))
	}
	if c.IsSet("chain-id") {
		chainID, ok := new(big.Int).SetString(c.String("chain-id"), 10)
		if !ok {
			return fmt.Errorf("invalid chain id %q", c.String("chain-id"))
		}
		cfg.ChainID = chainID
	}
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	return cfg.Validate()
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if err := applyFlags(c, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize policy store
	store, closeStore, err := openStore(c, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize network endpoints
	pool, err := blockchain.DialPool(ctx, cfg.RPCURLs, cfg.SubmitMethod, log)
	if err != nil {
		return fmt.Errorf("failed to connect to network: %v", err)
	}
	defer pool.Close()

	feePayer, err := blockchain.NewFeePayer(cfg.FeePayerPrivateKey, cfg.ChainID)
	if err != nil {
		return fmt.Errorf("failed to load fee payer key: %v", err)
	}

	var opts []relayer.Option
	if cfg.GaslessSwapEnabled() {
		builder, err := blockchain.NewGaslessSwapBuilder(cfg.SwapOperatorPrivateKey, common.HexToAddress(cfg.GaslessSwapRouter), cfg.ChainID, cfg.GaslessSwapGasLimit)
		if err != nil {
			return fmt.Errorf("failed to load swap operator key: %v", err)
		}
		opts = append(opts, relayer.WithGaslessSwaps(builder))
		log.Infow("Gasless swap enabled", "router", cfg.GaslessSwapRouter, "operator", builder.Address().Hex())
	}

	// Initialize notificator
	alerts, err := newNotificator(ctx, cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	relay := relayer.NewRelayer(store, pool, feePayer, alerts, m, log, cfg, opts...)

	apiServer := http_api.NewHTTPServer(relay, m, http_api.Options{
		Port:           cfg.APIPort,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
	}, log)

	log.Infow("Relayer configured",
		"network", cfg.Network,
		"chainId", cfg.ChainID.String(),
		"endpoints", pool.Size(),
		"feePayer", feePayer.Address().Hex())

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return apiServer.Shutdown()
}

func openStore(c *cli.Context, cfg *config.Config, log *logger.Logger) (models.PolicyStore, func(), error) {
	if c.Bool("in-memory") {
		store := repository.NewMemoryStore()
		if seed := c.String("seed"); seed != "" {
			if err := store.LoadSeedFile(seed); err != nil {
				return nil, nil, fmt.Errorf("failed to load seed file: %v", err)
			}
		}
		log.Warn("Using in-memory policy store, billing state is lost on exit")
		return store, func() {}, nil
	}

	db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Errorw("Failed to close database", "error", err)
		}
	}, nil
}

func newNotificator(ctx context.Context, cfg *config.Config, log *logger.Logger) (*notificator.Notificator, error) {
	var mailer notificator.Mailer
	switch cfg.EmailProvider {
	case config.EmailProviderSendGrid:
		mailer = notificator.NewSendGridNotificator(log, cfg.SendGridAPIKey, cfg.SendGridFrom, cfg.SMTPSender)
	default:
		mailer = notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender)
	}

	var telegram *notificator.TelegramNotificator
	if cfg.TelegramBotToken != "" {
		t, err := notificator.NewTelegramNotificator(ctx, log, cfg.TelegramBotToken, cfg.TelegramAlertChatID)
		if err != nil {
			return nil, err
		}
		telegram = t
	}
	return notificator.NewNotificator(log, mailer, telegram), nil
}
