package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricedesk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	contact_info TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id                TEXT PRIMARY KEY,
	canonical_name    TEXT NOT NULL,
	brand             TEXT,
	model_number      TEXT,
	upc               TEXT,
	category          TEXT,
	spec              TEXT,
	default_vendor_id TEXT REFERENCES vendors(id),
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_aliases (
	id               TEXT PRIMARY KEY,
	product_id       TEXT NOT NULL REFERENCES products(id),
	alias_text       TEXT NOT NULL,
	source_vendor_id TEXT REFERENCES vendors(id),
	embedding        TEXT,
	UNIQUE (product_id, alias_text)
);

CREATE TABLE IF NOT EXISTS source_documents (
	id                  TEXT PRIMARY KEY,
	vendor_id           TEXT REFERENCES vendors(id),
	file_name           TEXT NOT NULL,
	file_type           TEXT NOT NULL,
	storage_path        TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	ingest_started_at   TEXT,
	ingest_completed_at TEXT,
	extra               TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id                 TEXT PRIMARY KEY,
	source_document_id TEXT NOT NULL REFERENCES source_documents(id),
	processor          TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'queued',
	logs               TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS offers (
	id                 TEXT PRIMARY KEY,
	product_id         TEXT NOT NULL REFERENCES products(id),
	vendor_id          TEXT NOT NULL REFERENCES vendors(id),
	source_document_id TEXT REFERENCES source_documents(id),
	source_message_id  TEXT,
	price              TEXT NOT NULL,
	currency           TEXT NOT NULL DEFAULT 'USD',
	quantity           INTEGER,
	min_order_quantity INTEGER,
	condition          TEXT,
	location           TEXT,
	notes              TEXT,
	captured_at        TEXT NOT NULL,
	raw_payload        TEXT,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id),
	vendor_id       TEXT NOT NULL REFERENCES vendors(id),
	price           TEXT NOT NULL,
	currency        TEXT NOT NULL DEFAULT 'USD',
	valid_from      TEXT NOT NULL,
	valid_to        TEXT,
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vendors

func (s *SQLiteStore) GetVendorByName(ctx context.Context, name string) (*model.Vendor, error) {
	var (
		v           model.Vendor
		contactJSON *string
		created     string
		updated     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, contact_info, created_at, updated_at FROM vendors WHERE name = ?`,
		name,
	).Scan(&v.ID, &v.Name, &contactJSON, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get vendor %q", name)
	}
	if err := decodeJSON(contactJSON, &v.ContactInfo); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) CreateVendor(ctx context.Context, v *model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now

	contactJSON, err := encodeJSON(v.ContactInfo)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vendors (id, name, contact_info, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.Name, contactJSON, encodeTime(now), encodeTime(now),
	)
	return eris.Wrapf(err, "sqlite: insert vendor %q", v.Name)
}

// Products

func (s *SQLiteStore) getProduct(ctx context.Context, where string, arg any) (*model.Product, error) {
	var (
		p                model.Product
		brand            *string
		modelNumber      *string
		upc              *string
		category         *string
		specJSON         *string
		defaultVendorID  *string
		created, updated string
	)
	query := `SELECT id, canonical_name, brand, model_number, upc, category, spec, default_vendor_id, created_at, updated_at
	          FROM products WHERE ` + where
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&p.ID, &p.CanonicalName, &brand, &modelNumber, &upc, &category, &specJSON, &defaultVendorID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get product by %s", where)
	}
	p.Brand = deref(brand)
	p.ModelNumber = deref(modelNumber)
	p.UPC = deref(upc)
	p.Category = deref(category)
	p.DefaultVendorID = deref(defaultVendorID)
	if err := decodeJSON(specJSON, &p.Spec); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProductByModelNumber(ctx context.Context, modelNumber string) (*model.Product, error) {
	return s.getProduct(ctx, "model_number = ?", modelNumber)
}

func (s *SQLiteStore) GetProductByUPC(ctx context.Context, upc string) (*model.Product, error) {
	return s.getProduct(ctx, "upc = ?", upc)
}

func (s *SQLiteStore) GetProductByName(ctx context.Context, canonicalName string) (*model.Product, error) {
	return s.getProduct(ctx, "canonical_name = ?", canonicalName)
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	specJSON, err := encodeJSON(p.Spec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (id, canonical_name, brand, model_number, upc, category, spec, default_vendor_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CanonicalName, nullStr(p.Brand), nullStr(p.ModelNumber), nullStr(p.UPC), nullStr(p.Category),
		specJSON, nullStr(p.DefaultVendorID), encodeTime(now), encodeTime(now),
	)
	return eris.Wrapf(err, "sqlite: insert product %q", p.CanonicalName)
}

func (s *SQLiteStore) CreateProductAlias(ctx context.Context, a *model.ProductAlias) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	embeddingJSON, err := encodeJSON(a.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO product_aliases (id, product_id, alias_text, source_vendor_id, embedding) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, alias_text) DO NOTHING`,
		a.ID, a.ProductID, a.AliasText, nullStr(a.SourceVendorID), embeddingJSON,
	)
	return eris.Wrapf(err, "sqlite: insert alias for product %s", a.ProductID)
}

// Source documents

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *model.SourceDocument) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_documents (id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullStr(d.VendorID), d.FileName, d.FileType, d.StoragePath, string(d.Status),
		encodeTimePtr(d.IngestStartedAt), encodeTimePtr(d.IngestCompletedAt), extraJSON,
		encodeTime(now), encodeTime(now),
	)
	return eris.Wrapf(err, "sqlite: insert document %q", d.FileName)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.SourceDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra, created_at, updated_at
		 FROM source_documents WHERE id = ?`, id)
	d, err := scanDocument(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, d *model.SourceDocument) error {
	d.UpdatedAt = time.Now().UTC()
	extraJSON, err := encodeJSON(d.Extra)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE source_documents
		 SET vendor_id = ?, status = ?, ingest_started_at = ?, ingest_completed_at = ?, extra = ?, updated_at = ?
		 WHERE id = ?`,
		nullStr(d.VendorID), string(d.Status), encodeTimePtr(d.IngestStartedAt),
		encodeTimePtr(d.IngestCompletedAt), extraJSON, encodeTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %s", d.ID)
	}
	return checkRowsAffected(res, "document", d.ID)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.SourceDocument, error) {
	query := `SELECT id, vendor_id, file_name, file_type, storage_path, status, ingest_started_at, ingest_completed_at, extra, created_at, updated_at
	          FROM source_documents WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.SourceDocument
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// Ingestion jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.IngestionJob) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (id, source_document_id, processor, status, logs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SourceDocumentID, j.Processor, string(j.Status), logsJSON, encodeTime(now), encodeTime(now),
	)
	return eris.Wrapf(err, "sqlite: insert job for document %s", j.SourceDocumentID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_document_id, processor, status, logs, created_at, updated_at
		 FROM ingestion_jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.IngestionJob) error {
	j.UpdatedAt = time.Now().UTC()
	logsJSON, err := encodeJSON(j.Logs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET status = ?, logs = ?, updated_at = ? WHERE id = ?`,
		string(j.Status), logsJSON, encodeTime(j.UpdatedAt), j.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", j.ID)
	}
	return checkRowsAffected(res, "job", j.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error) {
	query := `SELECT id, source_document_id, processor, status, logs, created_at, updated_at
	          FROM ingestion_jobs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND source_document_id = ?`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// Offers

func (s *SQLiteStore) CreateOffer(ctx context.Context, o *model.Offer) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt = time.Now().UTC()
	o.CapturedAt = model.NormalizeUTC(o.CapturedAt)

	payloadJSON, err := encodeJSON(o.RawPayload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO offers (id, product_id, vendor_id, source_document_id, source_message_id, price, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ProductID, o.VendorID, nullStr(o.SourceDocumentID), nullStr(o.SourceMessageID),
		o.Price.String(), o.Currency, o.Quantity, o.MinOrderQuantity,
		nullStr(o.Condition), nullStr(o.Location), nullStr(o.Notes),
		encodeTime(o.CapturedAt), payloadJSON, encodeTime(o.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert offer for product %s", o.ProductID)
}

func (s *SQLiteStore) GetOfferByMessageRef(ctx context.Context, ref string) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, vendor_id, source_document_id, source_message_id, price, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload, created_at
		 FROM offers WHERE source_message_id = ? ORDER BY created_at ASC LIMIT 1`, ref)
	o, err := scanOffer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get offer by message ref %s", ref)
	}
	return o, nil
}

func (s *SQLiteStore) ListDocumentOffers(ctx context.Context, documentID string) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, vendor_id, source_document_id, source_message_id, price, currency, quantity, min_order_quantity, condition, location, notes, captured_at, raw_payload, created_at
		 FROM offers WHERE source_document_id = ? ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list offers for document %s", documentID)
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan offer")
		}
		offers = append(offers, *o)
	}
	return offers, eris.Wrap(rows.Err(), "sqlite: list offers iterate")
}

func (s *SQLiteStore) DeleteDocumentOffers(ctx context.Context, documentID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin delete offers")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM price_history WHERE source_offer_id IN (SELECT id FROM offers WHERE source_document_id = ?)`,
		documentID,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete price history for document %s", documentID)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM offers WHERE source_document_id = ?`, documentID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete offers for document %s", documentID)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit delete offers")
	}
	return int(n), nil
}

// Price history

func (s *SQLiteStore) GetOpenPriceSpan(ctx context.Context, productID, vendorID string) (*model.PriceHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, vendor_id, price, currency, valid_from, valid_to, source_offer_id
		 FROM price_history
		 WHERE product_id = ? AND vendor_id = ? AND valid_to IS NULL
		 ORDER BY valid_from DESC LIMIT 1`, productID, vendorID)
	span, err := scanSpan(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get open price span")
	}
	return span, nil
}

func (s *SQLiteStore) GetPriceSpanAt(ctx context.Context, productID, vendorID string, validFrom time.Time) (*model.PriceHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, vendor_id, price, currency, valid_from, valid_to, source_offer_id
		 FROM price_history
		 WHERE product_id = ? AND vendor_id = ? AND valid_from = ?`,
		productID, vendorID, encodeTime(validFrom))
	span, err := scanSpan(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get price span at boundary")
	}
	return span, nil
}

func (s *SQLiteStore) CreatePriceSpan(ctx context.Context, span *model.PriceHistory) error {
	if span.ID == "" {
		span.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (id, product_id, vendor_id, price, currency, valid_from, valid_to, source_offer_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		span.ID, span.ProductID, span.VendorID, span.Price.String(), span.Currency,
		encodeTime(span.ValidFrom), encodeTimePtr(span.ValidTo), span.SourceOfferID,
	)
	return eris.Wrap(err, "sqlite: insert price span")
}

func (s *SQLiteStore) UpdatePriceSpan(ctx context.Context, span *model.PriceHistory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_history SET price = ?, currency = ?, valid_to = ?, source_offer_id = ? WHERE id = ?`,
		span.Price.String(), span.Currency, encodeTimePtr(span.ValidTo), span.SourceOfferID, span.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update price span %s", span.ID)
	}
	return checkRowsAffected(res, "price span", span.ID)
}

func (s *SQLiteStore) ListPriceHistory(ctx context.Context, productID, vendorID string) ([]model.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, vendor_id, price, currency, valid_from, valid_to, source_offer_id
		 FROM price_history WHERE product_id = ? AND vendor_id = ? ORDER BY valid_from ASC`,
		productID, vendorID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list price history")
	}
	defer rows.Close()

	var spans []model.PriceHistory
	for rows.Next() {
		span, err := scanSpan(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price span")
		}
		spans = append(spans, *span)
	}
	return spans, eris.Wrap(rows.Err(), "sqlite: list price history iterate")
}

// scan helpers shared by row and rows paths

func scanDocument(scan func(...any) error) (*model.SourceDocument, error) {
	var (
		d                  model.SourceDocument
		vendorID           *string
		started, completed *string
		extraJSON          *string
		created, updated   string
	)
	if err := scan(&d.ID, &vendorID, &d.FileName, &d.FileType, &d.StoragePath, &d.Status,
		&started, &completed, &extraJSON, &created, &updated); err != nil {
		return nil, err
	}
	d.VendorID = deref(vendorID)
	var err error
	if d.IngestStartedAt, err = decodeTimePtr(started); err != nil {
		return nil, err
	}
	if d.IngestCompletedAt, err = decodeTimePtr(completed); err != nil {
		return nil, err
	}
	if err := decodeJSON(extraJSON, &d.Extra); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanJob(scan func(...any) error) (*model.IngestionJob, error) {
	var (
		j                model.IngestionJob
		logsJSON         *string
		created, updated string
	)
	if err := scan(&j.ID, &j.SourceDocumentID, &j.Processor, &j.Status, &logsJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := decodeJSON(logsJSON, &j.Logs); err != nil {
		return nil, err
	}
	var err error
	if j.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanOffer(scan func(...any) error) (*model.Offer, error) {
	var (
		o                         model.Offer
		docID, msgID              *string
		price                     string
		condition, location       *string
		notes                     *string
		payloadJSON               *string
		capturedAt, created       string
	)
	if err := scan(&o.ID, &o.ProductID, &o.VendorID, &docID, &msgID, &price, &o.Currency,
		&o.Quantity, &o.MinOrderQuantity, &condition, &location, &notes,
		&capturedAt, &payloadJSON, &created); err != nil {
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
	if o.CapturedAt, err = decodeTime(capturedAt); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanSpan(scan func(...any) error) (*model.PriceHistory, error) {
	var (
		span      model.PriceHistory
		price     string
		validFrom string
		validTo   *string
	)
	if err := scan(&span.ID, &span.ProductID, &span.VendorID, &price, &span.Currency,
		&validFrom, &validTo, &span.SourceOfferID); err != nil {
		return nil, err
	}
	var err error
	if span.Price, err = decodePrice(price); err != nil {
		return nil, err
	}
	if span.ValidFrom, err = decodeTime(validFrom); err != nil {
		return nil, err
	}
	if span.ValidTo, err = decodeTimePtr(validTo); err != nil {
		return nil, err
	}
	return &span, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.New(fmt.Sprintf("%s not found: %s", entity, id))
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
