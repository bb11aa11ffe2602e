package sourcesystem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/unit4-bridge/internal/platform/db"
)

const selectColumns = `
SELECT id, code, name, active, provider, folder_path, file_pattern, archive_folder, error_folder,
       transformer_type, interface_override, transaction_type_override, batch_id_prefix, default_currency,
       report_id, report_name, report_variant, report_user_id, report_company_id
FROM unit4_source_systems`

// Repository reads source systems from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repo.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActive returns active systems ordered by code.
func (r *Repository) ListActive(ctx context.Context) ([]SourceSystem, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("sourcesystem: repository not initialised")
	}
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceSystem
	for rows.Next() {
		sys, err := scanSourceSystem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sys)
	}
	return out, rows.Err()
}

// FindByCode loads one system regardless of its active flag.
func (r *Repository) FindByCode(ctx context.Context, code string) (SourceSystem, error) {
	if r == nil || r.pool == nil {
		return SourceSystem{}, errors.New("sourcesystem: repository not initialised")
	}
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE upper(code) = upper($1)`, strings.TrimSpace(code))
	sys, err := scanSourceSystem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SourceSystem{}, ErrNotFound
		}
		return SourceSystem{}, err
	}
	return sys, nil
}

const upsertSourceSystem = `
INSERT INTO unit4_source_systems (
    code, name, active, provider, folder_path, file_pattern, archive_folder, error_folder,
    transformer_type, interface_override, transaction_type_override, batch_id_prefix, default_currency,
    report_id, report_name, report_variant, report_user_id, report_company_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (upper(code)) DO UPDATE SET
    name = EXCLUDED.name,
    active = EXCLUDED.active,
    provider = EXCLUDED.provider,
    folder_path = EXCLUDED.folder_path,
    file_pattern = EXCLUDED.file_pattern,
    archive_folder = EXCLUDED.archive_folder,
    error_folder = EXCLUDED.error_folder,
    transformer_type = EXCLUDED.transformer_type,
    interface_override = EXCLUDED.interface_override,
    transaction_type_override = EXCLUDED.transaction_type_override,
    batch_id_prefix = EXCLUDED.batch_id_prefix,
    default_currency = EXCLUDED.default_currency,
    report_id = EXCLUDED.report_id,
    report_name = EXCLUDED.report_name,
    report_variant = EXCLUDED.report_variant,
    report_user_id = EXCLUDED.report_user_id,
    report_company_id = EXCLUDED.report_company_id,
    updated_at = NOW()`

// Upsert writes systems keyed by code in one transaction.
func (r *Repository) Upsert(ctx context.Context, systems []SourceSystem) error {
	if r == nil || r.pool == nil {
		return errors.New("sourcesystem: repository not initialised")
	}
	if len(systems) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, sys := range systems {
			sys.ApplyDefaults()
			transformer := sys.TransformerType
			if strings.TrimSpace(transformer) == "" {
				transformer = "ABWTransaction"
			}
			batch.Queue(upsertSourceSystem,
				sys.Code, sys.Name, sys.Active, string(sys.Provider), sys.FolderPath, sys.FilePattern,
				sys.ArchiveFolder, sys.ErrorFolder, transformer, sys.Interface, sys.TransactionType,
				sys.BatchIDPrefix, sys.DefaultCurrency,
				sys.ReportSetup.ReportID, sys.ReportSetup.ReportName, sys.ReportSetup.Variant,
				sys.ReportSetup.UserID, sys.ReportSetup.CompanyID,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for _, sys := range systems {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("sourcesystem: upsert %s: %w", sys.Code, err)
			}
		}
		return results.Close()
	})
}

func scanSourceSystem(row pgx.Row) (SourceSystem, error) {
	var sys SourceSystem
	var provider string
	err := row.Scan(
		&sys.ID, &sys.Code, &sys.Name, &sys.Active, &provider, &sys.FolderPath, &sys.FilePattern,
		&sys.ArchiveFolder, &sys.ErrorFolder, &sys.TransformerType, &sys.Interface, &sys.TransactionType,
		&sys.BatchIDPrefix, &sys.DefaultCurrency,
		&sys.ReportSetup.ReportID, &sys.ReportSetup.ReportName, &sys.ReportSetup.Variant,
		&sys.ReportSetup.UserID, &sys.ReportSetup.CompanyID,
	)
	if err != nil {
		return SourceSystem{}, err
	}
	sys.Provider = Provider(provider)
	sys.ApplyDefaults()
	return sys, nil
}
