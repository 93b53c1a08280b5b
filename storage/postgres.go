package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"carmarket-ingest/models"
)

// Postgres implements ListingStore, DealerStore and ImportLogStore on one
// PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the connection pool, waits for the database to come up,
// and runs schema migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS external_listings (
			id            BIGSERIAL PRIMARY KEY,
			source        VARCHAR(50)  NOT NULL,
			external_id   VARCHAR(120) NOT NULL,
			title         TEXT         NOT NULL,
			brand         VARCHAR(80)  NOT NULL DEFAULT '',
			model         VARCHAR(120) NOT NULL DEFAULT '',
			year          INT          NOT NULL DEFAULT 0,
			price         BIGINT       NOT NULL DEFAULT 0,
			mileage       BIGINT       NOT NULL DEFAULT 0,
			transmission  VARCHAR(60)  NOT NULL DEFAULT '',
			fuel_type     VARCHAR(60)  NOT NULL DEFAULT '',
			vehicle_type  VARCHAR(60)  NOT NULL DEFAULT '',
			image_1       TEXT NOT NULL DEFAULT '',
			image_2       TEXT NOT NULL DEFAULT '',
			image_3       TEXT NOT NULL DEFAULT '',
			image_4       TEXT NOT NULL DEFAULT '',
			vin           VARCHAR(40)  NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			phone         VARCHAR(40)  NOT NULL DEFAULT '',
			email         VARCHAR(120) NOT NULL DEFAULT '',
			state         VARCHAR(40)  NOT NULL DEFAULT '',
			city          VARCHAR(80)  NOT NULL DEFAULT '',
			city_name     VARCHAR(120) NOT NULL DEFAULT '',
			is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
			last_seen_at  TIMESTAMPTZ  NOT NULL,
			views         BIGINT       NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (source, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_active   ON external_listings(is_active);
		CREATE INDEX IF NOT EXISTS idx_listings_source   ON external_listings(source);
		CREATE INDEX IF NOT EXISTS idx_listings_location ON external_listings(state, city);
		CREATE INDEX IF NOT EXISTS idx_listings_brand    ON external_listings(brand);

		CREATE TABLE IF NOT EXISTS dealercenter_dealers (
			id                  BIGSERIAL PRIMARY KEY,
			account_id          VARCHAR(120) NOT NULL UNIQUE,
			activation_token    VARCHAR(40)  NOT NULL UNIQUE,
			subscription_status VARCHAR(20)  NOT NULL DEFAULT 'pending',
			max_listings        INT,
			name                VARCHAR(200) NOT NULL DEFAULT '',
			email               VARCHAR(120) NOT NULL DEFAULT '',
			phone               VARCHAR(40)  NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS import_logs (
			id                BIGSERIAL PRIMARY KEY,
			source            VARCHAR(50) NOT NULL,
			dealers_processed INT NOT NULL DEFAULT 0,
			dealers_created   INT NOT NULL DEFAULT 0,
			inserted          INT NOT NULL DEFAULT 0,
			updated           INT NOT NULL DEFAULT 0,
			deactivated       INT NOT NULL DEFAULT 0,
			skipped           INT NOT NULL DEFAULT 0,
			total_rows        INT NOT NULL DEFAULT 0,
			total_errors      INT NOT NULL DEFAULT 0,
			errors            TEXT NOT NULL DEFAULT '',
			started_at        TIMESTAMPTZ NOT NULL,
			finished_at       TIMESTAMPTZ NOT NULL,
			status            VARCHAR(20) NOT NULL
		);
	`)
	return err
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping() error {
	return p.db.Ping()
}

const listingColumns = `
	id, source, external_id, title, brand, model, year, price, mileage,
	transmission, fuel_type, vehicle_type, image_1, image_2, image_3, image_4,
	vin, description, phone, email, state, city, city_name,
	is_active, last_seen_at, views, created_at, updated_at`

func scanListing(row *sql.Row) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(
		&l.ID, &l.Source, &l.ExternalID, &l.Title, &l.Brand, &l.Model,
		&l.Year, &l.Price, &l.Mileage, &l.Transmission, &l.FuelType,
		&l.VehicleType, &l.Image1, &l.Image2, &l.Image3, &l.Image4,
		&l.VIN, &l.Description, &l.Phone, &l.Email, &l.State, &l.City,
		&l.CityName, &l.IsActive, &l.LastSeenAt, &l.Views,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listing: %w", err)
	}
	return l, nil
}

func (p *Postgres) GetByKey(ctx context.Context, source models.Source, externalID string) (*models.Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM external_listings WHERE source = $1 AND external_id = $2`,
		string(source), externalID)
	return scanListing(row)
}

func (p *Postgres) Insert(ctx context.Context, l *models.Listing) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO external_listings (
			source, external_id, title, brand, model, year, price, mileage,
			transmission, fuel_type, vehicle_type, image_1, image_2, image_3, image_4,
			vin, description, phone, email, state, city, city_name,
			is_active, last_seen_at, views
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
			$16,$17,$18,$19,$20,$21,$22,$23,$24,0
		)
		RETURNING id, created_at, updated_at`,
		string(l.Source), l.ExternalID, l.Title, l.Brand, l.Model, l.Year,
		l.Price, l.Mileage, l.Transmission, l.FuelType, l.VehicleType,
		l.Image1, l.Image2, l.Image3, l.Image4, l.VIN, l.Description,
		l.Phone, l.Email, l.State, l.City, l.CityName,
		l.IsActive, l.LastSeenAt,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert %s/%s: %w", l.Source, l.ExternalID, err)
	}
	return nil
}

// Update rewrites ingestion-owned fields. Views and created_at stay as they
// are; the display layer owns views.
func (p *Postgres) Update(ctx context.Context, l *models.Listing) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE external_listings SET
			title = $3, brand = $4, model = $5, year = $6, price = $7,
			mileage = $8, transmission = $9, fuel_type = $10, vehicle_type = $11,
			image_1 = $12, image_2 = $13, image_3 = $14, image_4 = $15,
			vin = $16, description = $17, phone = $18, email = $19,
			state = $20, city = $21, city_name = $22,
			is_active = TRUE, last_seen_at = $23, updated_at = NOW()
		WHERE source = $1 AND external_id = $2`,
		string(l.Source), l.ExternalID, l.Title, l.Brand, l.Model, l.Year,
		l.Price, l.Mileage, l.Transmission, l.FuelType, l.VehicleType,
		l.Image1, l.Image2, l.Image3, l.Image4, l.VIN, l.Description,
		l.Phone, l.Email, l.State, l.City, l.CityName, l.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", l.Source, l.ExternalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeactivateStale(ctx context.Context, scope Scope, runStart time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE external_listings
		SET is_active = FALSE, updated_at = NOW()
		WHERE source = $1
		  AND ($2 = '' OR external_id LIKE $2 || '%')
		  AND is_active
		  AND last_seen_at < $3`,
		string(scope.Source), scope.ExternalIDPrefix, runStart,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate stale in %s: %w", scope.Source, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) CountActive(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM external_listings
		WHERE source = $1
		  AND ($2 = '' OR external_id LIKE $2 || '%')
		  AND is_active`,
		string(scope.Source), scope.ExternalIDPrefix,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active in %s: %w", scope.Source, err)
	}
	return n, nil
}

func (p *Postgres) GetByAccountID(ctx context.Context, accountID string) (*models.Dealer, error) {
	d := &models.Dealer{}
	var maxListings sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, activation_token, subscription_status,
		       max_listings, name, email, phone, created_at
		FROM dealercenter_dealers WHERE account_id = $1`,
		accountID,
	).Scan(&d.ID, &d.AccountID, &d.ActivationToken, &d.SubscriptionStatus,
		&maxListings, &d.Name, &d.Email, &d.Phone, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get dealer %q: %w", accountID, err)
	}
	if maxListings.Valid {
		v := int(maxListings.Int64)
		d.MaxListings = &v
	}
	return d, nil
}

func (p *Postgres) GetByToken(ctx context.Context, token string) (*models.Dealer, error) {
	d := &models.Dealer{}
	var maxListings sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, activation_token, subscription_status,
		       max_listings, name, email, phone, created_at
		FROM dealercenter_dealers WHERE activation_token = $1`,
		token,
	).Scan(&d.ID, &d.AccountID, &d.ActivationToken, &d.SubscriptionStatus,
		&maxListings, &d.Name, &d.Email, &d.Phone, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get dealer by token: %w", err)
	}
	if maxListings.Valid {
		v := int(maxListings.Int64)
		d.MaxListings = &v
	}
	return d, nil
}

func (p *Postgres) Create(ctx context.Context, d *models.Dealer) error {
	var maxListings sql.NullInt64
	if d.MaxListings != nil {
		maxListings = sql.NullInt64{Int64: int64(*d.MaxListings), Valid: true}
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO dealercenter_dealers
			(account_id, activation_token, subscription_status, max_listings, name, email, phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		d.AccountID, d.ActivationToken, string(d.SubscriptionStatus),
		maxListings, d.Name, d.Email, d.Phone,
	).Scan(&d.ID, &d.CreatedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "activation_token") {
			return ErrTokenCollision
		}
		return fmt.Errorf("postgres: dealer %q already exists: %w", d.AccountID, err)
	}
	if err != nil {
		return fmt.Errorf("postgres: create dealer %q: %w", d.AccountID, err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, il *models.ImportLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO import_logs (
			source, dealers_processed, dealers_created, inserted, updated,
			deactivated, skipped, total_rows, total_errors, errors,
			started_at, finished_at, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		string(il.Source), il.DealersProcessed, il.DealersCreated,
		il.Inserted, il.Updated, il.Deactivated, il.Skipped,
		il.TotalRows, il.TotalErrors, strings.Join(il.Errors, "\n"),
		il.StartedAt, il.FinishedAt, string(il.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: append import log for %s: %w", il.Source, err)
	}
	return nil
}
