package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/xixi-cart/internal/domain/auth"
	"github.com/xenking/xixi-cart/internal/domain/product"
	"github.com/xenking/xixi-cart/internal/storage/postgres"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type options struct {
	databaseURL  string
	productsFile string
	jwtSecret    string
	jwtIssuer    string
	tokenUser    string
	tokenAdmin   string
	tokenTTL     time.Duration
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "JWT secret for printing dev tokens (or XIXI_JWT_SECRET env)")
	flag.StringVar(&opts.jwtIssuer, "jwt-issuer", "xixi", "JWT issuer")
	flag.StringVar(&opts.tokenUser, "token-user", "demo-customer", "user id of the printed customer token")
	flag.StringVar(&opts.tokenAdmin, "token-admin", "demo-admin", "user id of the printed admin token")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("XIXI_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if opts.jwtSecret == "" {
		slog.Info("no JWT secret given, skipping dev tokens")
		return nil
	}
	return printTokens(auth.NewTokenManager([]byte(opts.jwtSecret), opts.jwtIssuer), opts)
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Price: p.Price,
			Stock: p.Stock,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name), slog.Int("stock", p.Stock))
	}

	return nil
}

// printTokens writes bearer tokens for a demo customer and a demo admin to
// stdout, one "role<TAB>token" line each.
func printTokens(tokens *auth.TokenManager, opts options) error {
	for _, p := range []auth.Principal{
		{UserID: opts.tokenUser, Role: auth.RoleCustomer},
		{UserID: opts.tokenAdmin, Role: auth.RoleAdmin},
	} {
		token, err := tokens.Issue(p, opts.tokenTTL)
		if err != nil {
			return errors.Wrapf(err, "issue %s token", p.Role)
		}
		fmt.Printf("%s\t%s\n", p.Role, token)
	}
	return nil
}
