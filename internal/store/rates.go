package store

import (
	"context"
	"database/sql"
	"fmt"

	"ratebook/internal/model"
)

// insertRates 批量插入报价（调用方负责事务）
func insertRates(ctx context.Context, tx *sql.Tx, batchID, providerCode string, rates []model.ParsedRate) error {
	if len(rates) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rates (
			batch_id, provider_code,
			cap_code, cap_id, manufacturer, model, variant,
			term, annual_mileage, initial_months, payment_profile, contract_type,
			monthly_rental, is_maintained,
			otr, p11d, co2, fuel_type, transmission, excess_mileage_pence, quote_number,
			source_sheet, source_row, source_col
		) VALUES (
			?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rates {
		_, err := stmt.ExecContext(ctx,
			batchID, providerCode,
			r.CapCode, r.CapID, r.Manufacturer, r.Model, r.Variant,
			r.Term, r.AnnualMileage, r.InitialMonths, r.PaymentProfileLabel, string(r.ContractType),
			r.MonthlyRental, boolToInt(r.IsMaintained),
			nullInt64(r.OTR), nullInt64(r.P11D), nullInt(r.CO2), r.FuelType, r.Transmission, nullInt(r.ExcessMileagePence), r.QuoteNumber,
			r.SourceSheet, r.SourceRow, r.SourceCol,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rate %s!R%dC%d: %w", r.SourceSheet, r.SourceRow, r.SourceCol, err)
		}
	}
	return nil
}

// ListRates 分页查询某批次的报价（按写入顺序）
func (s *Store) ListRates(ctx context.Context, batchID string, limit, offset int) ([]model.ParsedRate, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			cap_code, cap_id, manufacturer, model, variant,
			term, annual_mileage, initial_months, payment_profile, contract_type,
			monthly_rental, is_maintained,
			otr, p11d, co2, fuel_type, transmission, excess_mileage_pence, quote_number,
			source_sheet, source_row, source_col
		FROM rates
		WHERE batch_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	defer rows.Close()

	var out []model.ParsedRate
	for rows.Next() {
		var (
			r          model.ParsedRate
			ct         string
			maintained int
			otr, p11d  sql.NullInt64
			co2, ppm   sql.NullInt64
		)
		if err := rows.Scan(
			&r.CapCode, &r.CapID, &r.Manufacturer, &r.Model, &r.Variant,
			&r.Term, &r.AnnualMileage, &r.InitialMonths, &r.PaymentProfileLabel, &ct,
			&r.MonthlyRental, &maintained,
			&otr, &p11d, &co2, &r.FuelType, &r.Transmission, &ppm, &r.QuoteNumber,
			&r.SourceSheet, &r.SourceRow, &r.SourceCol,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		r.ContractType = model.ContractType(ct)
		r.IsMaintained = maintained == 1
		r.OTR = int64Ptr(otr)
		r.P11D = int64Ptr(p11d)
		r.CO2 = intPtr(co2)
		r.ExcessMileagePence = intPtr(ppm)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rates: %w", err)
	}
	return out, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	x := v.Int64
	return &x
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	x := int(v.Int64)
	return &x
}
