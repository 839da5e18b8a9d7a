// Command seed-db prepares a database for local development: it runs the
// migrations, loads demo products, a couple of promocodes and two users (a
// customer with a bonus balance and a staff consultant) with known session
// tokens.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velstore/checkout/internal/postgres"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		databaseURL   string
		productsFile  string
		customerToken string
		staffToken    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerToken, "customer-token", "", "session token for the demo customer (or CHECKOUT_SEED_CUSTOMER_TOKEN env)")
	flag.StringVar(&staffToken, "staff-token", "", "session token for the demo consultant (or CHECKOUT_SEED_STAFF_TOKEN env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerToken == "" {
		customerToken = os.Getenv("CHECKOUT_SEED_CUSTOMER_TOKEN")
	}
	if staffToken == "" {
		staffToken = os.Getenv("CHECKOUT_SEED_STAFF_TOKEN")
	}
	if customerToken == "" || staffToken == "" {
		slog.Error("session tokens are required: set --customer-token and --staff-token")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, customerToken, staffToken); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, customerToken, staffToken string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromocodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promocodes")
	}
	if err := seedUsers(ctx, pool, customerToken, staffToken); err != nil {
		return errors.Wrap(err, "seed users")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
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

	const query = `
		INSERT INTO products (id, name, price, stock_quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price,
		    stock_quantity = EXCLUDED.stock_quantity, updated_at = now()`

	for _, p := range products {
		if _, err := pool.Exec(ctx, query, p.ID, p.Name, p.Price, p.Stock); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedPromocodes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promocodes")

	const query = `
		INSERT INTO promocodes (code, type, discount_percentage, max_discount, min_order_amount, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (code) DO NOTHING`

	maxDiscount := decimal.NewFromInt(500)
	expires := time.Now().AddDate(1, 0, 0)

	promos := []struct {
		code      string
		kind      string
		percent   decimal.Decimal
		maxDisc   *decimal.Decimal
		minAmount decimal.Decimal
		expiresAt *time.Time
	}{
		{"WELCOME10", "temporary", decimal.NewFromInt(10), &maxDiscount, decimal.NewFromInt(500), &expires},
		{"FLASH25", "single_use", decimal.NewFromInt(25), nil, decimal.NewFromInt(1000), nil},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, query, p.code, p.kind, p.percent, p.maxDisc, p.minAmount, p.expiresAt); err != nil {
			return errors.Wrapf(err, "insert promocode %s", p.code)
		}
		slog.Info("seeded promocode", slog.String("code", p.code), slog.String("type", p.kind))
	}

	return nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, customerToken, staffToken string) error {
	slog.Info("seeding demo users")

	const userQuery = `
		INSERT INTO users (email, bonus_balance)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET bonus_balance = EXCLUDED.bonus_balance, updated_at = now()
		RETURNING id`

	const sessionQuery = `
		INSERT INTO sessions (token_hash, user_id, roles, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id, roles = EXCLUDED.roles, expires_at = EXCLUDED.expires_at`

	expires := time.Now().AddDate(0, 1, 0)

	users := []struct {
		email   string
		balance int64
		token   string
		roles   []string
	}{
		{"customer@example.com", 250, customerToken, []string{}},
		{"consultant@example.com", 0, staffToken, []string{"consultant"}},
	}

	for _, u := range users {
		var userID string
		if err := pool.QueryRow(ctx, userQuery, u.email, u.balance).Scan(&userID); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.email)
		}

		hash := sha256.Sum256([]byte(u.token))
		tokenHash := hex.EncodeToString(hash[:])
		if _, err := pool.Exec(ctx, sessionQuery, tokenHash, userID, u.roles, expires); err != nil {
			return errors.Wrapf(err, "insert session for %s", u.email)
		}

		slog.Info("seeded user", slog.String("email", u.email), slog.Int64("bonus_balance", u.balance))
	}

	return nil
}
