package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/openwager/poolhouse/internal/asset"
	"github.com/openwager/poolhouse/internal/crypto"
	"github.com/openwager/poolhouse/internal/domain"
	"github.com/openwager/poolhouse/internal/ledger"
	"github.com/openwager/poolhouse/internal/server"
	"github.com/openwager/poolhouse/internal/server/handler"
	"github.com/openwager/poolhouse/internal/server/ws"
	"github.com/openwager/poolhouse/internal/service"
)

// writerLockKey is the distributed lock that guarantees a single ledger
// writer per deployment. A second serve/paper process against the same
// Redis refuses to start while the first one holds it.
const writerLockKey = "poolhouse:writer"

// ServeMode runs the ledger against a real ERC-20 over JSON-RPC: writer
// lock, journal restore, event hub, and the HTTP/WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:   a.cfg.Wallet.PrivateKey,
		KeyfilePath:     a.cfg.Wallet.KeyfilePath,
		KeyfilePassword: a.cfg.Wallet.KeyfilePassword,
	})
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	token, err := asset.NewERC20(ctx, asset.ERC20Config{
		RPCURL:         a.cfg.Chain.RPCURL,
		Token:          common.HexToAddress(a.cfg.Chain.Token),
		PrivateKeyHex:  key,
		GasLimit:       a.cfg.Chain.GasLimit,
		ConfirmTimeout: a.cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:   a.cfg.Chain.PollInterval.Duration,
	})
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	a.closers = append(a.closers, func() { _ = token.Close() })

	a.logger.InfoContext(ctx, "escrow token connected",
		slog.String("token", a.cfg.Chain.Token),
		slog.String("custodian", token.Custodian().Hex()),
		slog.Int("decimals", int(token.Decimals())),
	)

	return a.runLedger(ctx, deps, token, token.Custodian())
}

// PaperMode runs the same ledger against an in-memory token with a faucet,
// for rehearsing market flows without a chain or real funds.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	custodian := common.HexToAddress(a.cfg.Paper.Custodian)
	faucet := new(big.Int)
	if a.cfg.Paper.Faucet != "" {
		if _, ok := faucet.SetString(a.cfg.Paper.Faucet, 10); !ok {
			return fmt.Errorf("paper mode: bad faucet amount %q", a.cfg.Paper.Faucet)
		}
	}
	token := asset.NewPaper(custodian, uint8(a.cfg.Paper.Decimals), faucet)

	a.logger.InfoContext(ctx, "paper token ready",
		slog.String("custodian", custodian.Hex()),
		slog.Int("decimals", a.cfg.Paper.Decimals),
		slog.String("faucet", faucet.String()),
	)

	return a.runLedger(ctx, deps, token, custodian)
}

// runLedger is the shared serve/paper body: take the writer lock, build the
// core and its service shell, replay the journal, then run the event hub and
// HTTP server until the context is cancelled.
func (a *App) runLedger(ctx context.Context, deps *Dependencies, token domain.Asset, custodian common.Address) error {
	release, err := deps.LockManager.Hold(ctx, writerLockKey, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		return fmt.Errorf("ledger: acquire writer lock: %w", err)
	}
	a.closers = append(a.closers, release)

	outcomes := make([]domain.Outcome, len(a.cfg.Ledger.Outcomes))
	for i, o := range a.cfg.Ledger.Outcomes {
		outcomes[i] = domain.Outcome(o)
	}
	core, err := ledger.New(ledger.Config{
		Admin:     common.HexToAddress(a.cfg.Ledger.Admin),
		Reporter:  common.HexToAddress(a.cfg.Ledger.Reporter),
		Custodian: custodian,
		Outcomes:  outcomes,
	}, token)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	svc := service.NewLedgerService(
		core,
		deps.MarketStore,
		deps.BetStore,
		deps.RoleStore,
		deps.AuditStore,
		deps.MarketCache,
		deps.SignalBus,
		token.Decimals(),
		a.logger,
	)
	if n := newNotifier(a.cfg.Notify, token.Decimals(), a.logger); n != nil {
		svc = svc.WithNotifier(n)
	}

	if a.cfg.Ledger.RestoreOnStart {
		if err := svc.RestoreFromJournal(ctx); err != nil {
			return fmt.Errorf("ledger: restore: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	} else {
		// Still useful headless: the process keeps the writer lock, which
		// fences out other writers during maintenance.
		a.logger.InfoContext(ctx, "http server disabled; holding writer lock until shutdown")
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	return g.Wait()
}

// ArchiveMode exports cold history to object storage once and exits: settled
// markets older than the retention window, then aged audit rows, which are
// pruned after a successful upload.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: requires postgres and s3")
	}

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		slog.Time("before", before),
	)

	markets, err := deps.Archiver.ArchiveSettledMarkets(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: markets: %w", err)
	}

	entries, err := deps.Archiver.ArchiveAuditLog(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("markets", markets),
		slog.Int64("audit_entries", entries),
	)
	return nil
}

// KeyfileMode encrypts wallet.private_key with the keyfile password, writes
// it to wallet.keyfile_path, and exits. Run it once, then remove the raw key
// from the config and keep only the keyfile reference.
func (a *App) KeyfileMode(ctx context.Context, _ *Dependencies) error {
	blob, err := crypto.EncryptKey(a.cfg.Wallet.PrivateKey, a.cfg.Wallet.KeyfilePassword)
	if err != nil {
		return fmt.Errorf("keyfile mode: %w", err)
	}
	if err := os.WriteFile(a.cfg.Wallet.KeyfilePath, blob, 0o600); err != nil {
		return fmt.Errorf("keyfile mode: write %s: %w", a.cfg.Wallet.KeyfilePath, err)
	}

	a.logger.InfoContext(ctx, "keyfile written",
		slog.String("path", a.cfg.Wallet.KeyfilePath),
	)
	return nil
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LedgerService) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, startedAt, a.logger),
		Ledger:  handler.NewLedgerHandler(svc, a.logger),
		Markets: handler.NewMarketHandler(svc, a.logger),
		Bets:    handler.NewBetHandler(svc, a.logger),
		Audit:   handler.NewAuditHandler(svc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
