package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricedesk/internal/db"
	"github.com/sells-group/pricedesk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL UNIQUE,
	contact_info JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	canonical_name    TEXT NOT NULL,
	brand             TEXT,
	model_number      TEXT,
	upc               TEXT,
	category          TEXT,
	spec              JSONB,
	default_vendor_id TEXT REFERENCES vendors(id),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_aliases (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id       TEXT NOT NULL REFERENCES products(id),
	alias_text       TEXT NOT NULL,
	source_vendor_id TEXT REFERENCES vendors(id),
	embedding        JSONB,
	UNIQUE (product_id, alias_text)
);

CREATE TABLE IF NOT EXISTS source_documents (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor_id           TEXT REFERENCES vendors(id),
	file_name           TEXT NOT NULL,
	file_type           TEXT NOT NULL,
	storage_path        TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	ingest_started_at   TIMESTAMPTZ,
	ingest_completed_at TIMESTAMPTZ,
	extra               JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_document_id TEXT NOT NULL REFERENCES source_documents(id),
	processor          TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'queued',
	logs               JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS offers (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id         TEXT NOT NULL REFERENCES products(id),
	vendor_id          TEXT NOT NULL REFERENCES vendors(id),
	source_document_id TEXT REFERENCES source_documents(id),
	source_message_id  TEXT,
	price              NUMERIC(14,4) NOT NULL,
	currency           TEXT NOT NULL DEFAULT 'USD',
	quantity           BIGINT,
	min_order_quantity BIGINT,
	condition          TEXT,
	location           TEXT,
	notes              TEXT,
	captured_at        TIMESTAMPTZ NOT NULL,
	raw_payload        JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_history (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id      TEXT NOT NULL REFERENCES products(id),
	vendor_id       TEXT NOT NULL REFERENCES vendors(id),
	price           NUMERIC(14,4) NOT NULL,
	currency        TEXT NOT NULL DEFAULT 'USD',
	valid_from      TIMESTAMPTZ NOT NULL,
	valid_to        TIMESTAMPTZ,
	source_offer_id TEXT NOT NULL REFERENCES offers(id),
	UNIQUE (product_id, vendor_id, valid_from)
);

CREATE INDEX IF NOT EXISTS idx_vendors_name ON vendors(name);
CREATE INDEX IF NOT EXISTS idx_products_model_number ON products(model_number);
CREATE INDEX IF NOT EXISTS idx_products_upc ON products(upc);
CREATE INDEX IF NOT EXISTS idx_products_canonical_name ON products(canonical_name);
CREATE INDEX IF NOT EXISTS idx_documents_status ON source_documents(status);
CREATE INDEX IF NOT EXISTS idx_jobs_document ON ingestion_jobs(source_document_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingestion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_offers_document ON offers(source_document_id);
CREATE INDEX IF NOT EXISTS idx_offers_message_ref ON offers(source_message_id);
CREATE INDEX IF NOT EXISTS idx_price_history_pair ON price_history(product_id, vendor_id, valid_from);
CREATE INDEX IF NOT EXISTS idx_price_history_open ON price_history(product_id, vendor_id) WHERE valid_to IS NULL;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Vendors

func (s *PostgresStore) GetVendorByName(ctx context.Context, name string) (*model.Vendor, error) {
	var (
		v           model.Vendor
		contactJSON *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, contact_info::text, created_at, updated_at FROM vendors WHERE name = $1`,
		name,
	).Scan(&v.ID, &v.Name, &contactJSON, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get vendor %q", name)
	}
	if err := decodeJSON(contactJSON, &v.ContactInfo); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) CreateVendor(ctx context.Context, v *model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now

	contactJSON, err := encodeJSON(v.ContactInfo)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vendors (id, name, contact_info, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Name, contactJSON, now, now,
	)
	return eris.Wrapf(err, "postgres: insert vendor %q", v.Name)
}

// Products

func (s *PostgresStore) getProduct(ctx context.Context, where string, arg any) (*model.Product, error) {
	var (
		p               model.Product
		brand           *string
		modelNumber     *string
		upc             *string
		category        *string
		specJSON        *string
		defaultVendorID *string
	)
	query := `SELECT id, canonical_name, brand, model_number, upc, category, spec::text, default_vendor_id, created_at, updated_at
	          FROM products WHERE ` + where
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.CanonicalName, &brand, &modelNumber, &upc, &category, &specJSON, &defaultVendorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get product by %s", where)
	}
	p.Brand = deref(brand)
	p.ModelNumber = deref(modelNumber)
	p.UPC = deref(upc)
	p.Category = deref(category)
	p.DefaultVendorID = deref(defaultVendorID)
	if err := decodeJSON(specJSON, &p.Spec); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProductByModelNumber(ctx context.Context, modelNumber string) (*model.Product, error) {
	return s.getProduct(ctx, "model_number = $1", modelNumber)
}

func (s *PostgresStore) GetProductByUPC(ctx context.Context, upc string) (*model.Product, error) {
	return s.getProduct(ctx, "upc = $1", upc)
}

func (s *PostgresStore) GetProductByName(ctx context.Context, canonicalName string) (*model.Product, error) {
	return s.getProduct(ctx, "canonical_name = $1", canonicalName)
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	specJSON, err := encodeJSON(p.Spec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (id, canonical_name, brand, model_number, upc, category, spec, default_vendor_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.CanonicalName, nullStr(p.Brand), nullStr(p.ModelNumber), nullStr(p.UPC), nullStr(p.Category),
		specJSON, nullStr(p.DefaultVendorID), now, now,
	)
	return eris.Wrapf(err, "postgres: insert product %q", p.CanonicalName)
}

func (s *PostgresStore) CreateProductAlias(ctx context.Context, a *model.ProductAlias) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	embeddingJSON, err := encodeJSON(a.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO product_aliases (id, product_id, alias_text, source_vendor_id, embedding) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id, alias_text) DO NOTHING`,
		a.ID, a.ProductID, a.AliasText, nullStr(a.SourceVendorID), embeddingJSON,
	)
	return eris.Wrapf(err, "postgres: insert alias for product %s", a.ProductID)
}

// Source documents

func (s *PostgresStore) CreateDocument(ctx context.Context, d *model.SourceDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DocumentStatusQueued
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	extraJSON, err := encodeJSON(d.Extra)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_documents (id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, nullStr(d.VendorID), d.FileName, d.FileType, d.StoragePath, string(d.Status),
		d.IngestStartedAt, d.IngestCompletedAt, extraJSON, now, now,
	)
	return eris.Wrapf(err, "postgres: insert document %q", d.FileName)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.SourceDocument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra::text, created_at, updated_at
		 FROM source_documents WHERE id = $1`, id)
	d, err := scanPgDocument(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, d *model.SourceDocument) error {
	d.UpdatedAt = time.Now().UTC()
	extraJSON, err := encodeJSON(d.Extra)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE source_documents
		 SET vendor_id = $1, status = $2, ingest_started_at = $3, ingest_completed_at = $4, extra = $5, updated_at = $6
		 WHERE id = $7`,
		nullStr(d.VendorID), string(d.Status), d.IngestStartedAt, d.IngestCompletedAt, extraJSON, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %s", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", d.ID)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.SourceDocument, error) {
	query := `SELECT id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra::text, created_at, updated_at
	          FROM source_documents WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += ` AND status = $1`
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += placeholderSuffix(` LIMIT`, argIdx)
	args = append(args, limit)
	argIdx++
	if filter.Offset > 0 {
		query += placeholderSuffix(` OFFSET`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.SourceDocument
	for rows.Next() {
		d, err := scanPgDocument(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// Ingestion jobs

func (s *PostgresStore) CreateJob(ctx context.Context, j *model.IngestionJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = model.JobStatusQueued
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now

	logsJSON, err := encodeJSON(j.Logs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingestion_jobs (id, source_document_id, processor, status, logs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.SourceDocumentID, j.Processor, string(j.Status), logsJSON, now, now,
	)
	return eris.Wrapf(err, "postgres: insert job for document %s", j.SourceDocumentID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.IngestionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_document_id, processor, status, logs::text, created_at, updated_at
		 FROM ingestion_jobs WHERE id = $1`, id)
	j, err := scanPgJob(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, j *model.IngestionJob) error {
	j.UpdatedAt = time.Now().UTC()
	logsJSON, err := encodeJSON(j.Logs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_jobs SET status = $1, logs = $2, updated_at = $3 WHERE id = $4`,
		string(j.Status), logsJSON, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", j.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", j.ID)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT id, source_document_id, processor, status, logs::text, created_at, updated_at
	          FROM ingestion_jobs WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += placeholderSuffix(` AND status =`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.DocumentID != "" {
		query += placeholderSuffix(` AND source_document_id =`, argIdx)
		args = append(args, filter.DocumentID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += placeholderSuffix(` LIMIT`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		j, err := scanPgJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// Offers

func (s *PostgresStore) CreateOffer(ctx context.Context, o *model.Offer) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt = time.Now().UTC()
	o.CapturedAt = model.NormalizeUTC(o.CapturedAt)

	payloadJSON, err := encodeJSON(o.RawPayload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO offers (id, product_id, vendor_id, source_document_id, source_message_id, price, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.ProductID, o.VendorID, nullStr(o.SourceDocumentID), nullStr(o.SourceMessageID),
		o.Price.String(), o.Currency, o.Quantity, o.MinOrderQuantity,
		nullStr(o.Condition), nullStr(o.Location), nullStr(o.Notes),
		o.CapturedAt, payloadJSON, o.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert offer for product %s", o.ProductID)
}

func (s *PostgresStore) GetOfferByMessageRef(ctx context.Context, ref string) (*model.Offer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, vendor_id, source_document_id, source_message_id, price::text, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload::text, created_at
		 FROM offers WHERE source_message_id = $1 ORDER BY created_at ASC LIMIT 1`, ref)
	o, err := scanPgOffer(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get offer by message ref %s", ref)
	}
	return o, nil
}

func (s *PostgresStore) ListDocumentOffers(ctx context.Context, documentID string) ([]model.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, vendor_id, source_document_id, source_message_id, price::text, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload::text, created_at
		 FROM offers WHERE source_document_id = $1 ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list offers for document %s", documentID)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanPgOffer(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan offer")
		}
		offers = append(offers, *o)
	}
	return offers, eris.Wrap(rows.Err(), "postgres: list offers iterate")
}

func (s *PostgresStore) DeleteDocumentOffers(ctx context.Context, documentID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin delete offers")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM price_history WHERE source_offer_id IN (SELECT id FROM offers WHERE source_document_id = $1)`,
		documentID,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: delete price history for document %s", documentID)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM offers WHERE source_document_id = $1`, documentID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete offers for document %s", documentID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit delete offers")
	}
	return int(tag.RowsAffected()), nil
}

// Price history

func (s *PostgresStore) GetOpenPriceSpan(ctx context.Context, productID, vendorID string) (*model.PriceHistory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, vendor_id, price::text, currency, valid_from, valid_to, source_offer_id
		 FROM price_history
		 WHERE product_id = $1 AND vendor_id = $2 AND valid_to IS NULL
		 ORDER BY valid_from DESC LIMIT 1`, productID, vendorID)
	span, err := scanPgSpan(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get open price span")
	}
	return span, nil
}

func (s *PostgresStore) GetPriceSpanAt(ctx context.Context, productID, vendorID string, validFrom time.Time) (*model.PriceHistory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, vendor_id, price::text, currency, valid_from, valid_to, source_offer_id
		 FROM price_history
		 WHERE product_id = $1 AND vendor_id = $2 AND valid_from = $3`,
		productID, vendorID, validFrom.UTC())
	span, err := scanPgSpan(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get price span at boundary")
	}
	return span, nil
}

func (s *PostgresStore) CreatePriceSpan(ctx context.Context, span *model.PriceHistory) error {
	if span.ID == "" {
		span.ID = uuid.New().String()
	}
	var validTo any
	if span.ValidTo != nil {
		validTo = span.ValidTo.UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (id, product_id, vendor_id, price, currency, valid_from, valid_to, source_offer_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		span.ID, span.ProductID, span.VendorID, span.Price.String(), span.Currency,
		span.ValidFrom.UTC(), validTo, span.SourceOfferID,
	)
	return eris.Wrap(err, "postgres: insert price span")
}

func (s *PostgresStore) UpdatePriceSpan(ctx context.Context, span *model.PriceHistory) error {
	var validTo any
	if span.ValidTo != nil {
		validTo = span.ValidTo.UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_history SET price = $1, currency = $2, valid_to = $3, source_offer_id = $4 WHERE id = $5`,
		span.Price.String(), span.Currency, validTo, span.SourceOfferID, span.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update price span %s", span.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("price span not found: %s", span.ID)
	}
	return nil
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, productID, vendorID string) ([]model.PriceHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, vendor_id, price::text, currency, valid_from, valid_to, source_offer_id
		 FROM price_history WHERE product_id = $1 AND vendor_id = $2 ORDER BY valid_from ASC`,
		productID, vendorID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list price history")
	}
	defer rows.Close()

	var spans []model.PriceHistory
	for rows.Next() {
		span, err := scanPgSpan(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan price span")
		}
		spans = append(spans, *span)
	}
	return spans, eris.Wrap(rows.Err(), "postgres: list price history iterate")
}

// scan helpers (pgx keeps timestamptz as time.Time, so these differ from the
// SQLite string-layout variants)

func scanPgDocument(scan func(...any) error) (*model.SourceDocument, error) {
	var (
		d         model.SourceDocument
		vendorID  *string
		extraJSON *string
	)
	if err := scan(&d.ID, &vendorID, &d.FileName, &d.FileType, &d.StoragePath, &d.Status,
		&d.IngestStartedAt, &d.IngestCompletedAt, &extraJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.VendorID = deref(vendorID)
	if err := decodeJSON(extraJSON, &d.Extra); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanPgJob(scan func(...any) error) (*model.IngestionJob, error) {
	var (
		j        model.IngestionJob
		logsJSON *string
	)
	if err := scan(&j.ID, &j.SourceDocumentID, &j.Processor, &j.Status, &logsJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(logsJSON, &j.Logs); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanPgOffer(scan func(...any) error) (*model.Offer, error) {
	var (
		o                   model.Offer
		docID, msgID        *string
		price               string
		condition, location *string
		notes               *string
		payloadJSON         *string
	)
	if err := scan(&o.ID, &o.ProductID, &o.VendorID, &docID, &msgID, &price, &o.Currency,
		&o.Quantity, &o.MinOrderQuantity, &condition, &location, &notes,
		&o.CapturedAt, &payloadJSON, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.SourceDocumentID = deref(docID)
	o.SourceMessageID = deref(msgID)
	o.Condition = deref(condition)
	o.Location = deref(location)
	o.Notes = deref(notes)
	var err error
	if o.Price, err = decodePrice(price); err != nil {
		return nil, err
	}
	if err := decodeJSON(payloadJSON, &o.RawPayload); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanPgSpan(scan func(...any) error) (*model.PriceHistory, error) {
	var (
		span  model.PriceHistory
		price string
	)
	if err := scan(&span.ID, &span.ProductID, &span.VendorID, &price, &span.Currency,
		&span.ValidFrom, &span.ValidTo, &span.SourceOfferID); err != nil {
		return nil, err
	}
	var err error
	if span.Price, err = decodePrice(price); err != nil {
		return nil, err
	}
	return &span, nil
}

func placeholderSuffix(prefix string, idx int) string {
	return fmt.Sprintf("%s $%d", prefix, idx)
}
