package harvesting

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/taxaware/portfolio-engine/internal/database/repositories"
	"github.com/taxaware/portfolio-engine/internal/domain"
)

// SecurityRepository reads security reference data and price history from
// the analytics store for replacement-candidate lookups.
type SecurityRepository struct {
	*repositories.BaseRepository
}

// NewSecurityRepository creates a repository bound to the analytics database.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{BaseRepository: repositories.NewBase(db, log.With().Str("repo", "security").Logger())}
}

func scanSecurity(row interface {
	Scan(dest ...interface{}) error
}) (domain.Security, error) {
	var sec domain.Security
	err := row.Scan(&sec.ID, &sec.Symbol, &sec.Name, &sec.Exchange, &sec.Sector, &sec.Industry, &sec.Country, &sec.ISIN, &sec.Active)
	return sec, err
}

// GetByID loads a single security by its analytics-store ID.
func (r *SecurityRepository) GetByID(id int64) (domain.Security, error) {
	row := r.DB().QueryRow(
		`SELECT id, symbol, name, exchange, sector, industry, country, isin, active FROM securities WHERE id = ?`, id,
	)
	sec, err := scanSecurity(row)
	if err != nil {
		return sec, fmt.Errorf("load security %d: %w", id, err)
	}
	return sec, nil
}

// ActiveInSector returns active securities in the given sector, excluding
// the security being replaced.
func (r *SecurityRepository) ActiveInSector(excludeID int64, sector string) ([]domain.Security, error) {
	rows, err := r.DB().Query(
		`SELECT id, symbol, name, exchange, sector, industry, country, isin, active
		 FROM securities WHERE active = 1 AND sector = ? AND id != ?`,
		sector, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("load candidate securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate security: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// DailyCloses returns up to lookbackDays+1 trailing close prices for a
// security, most recent first.
func (r *SecurityRepository) DailyCloses(securityID int64, lookbackDays int) ([]float64, error) {
	rows, err := r.DB().Query(
		`SELECT close FROM prices WHERE security_id = ? ORDER BY date DESC LIMIT ?`,
		securityID, lookbackDays+1,
	)
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}
