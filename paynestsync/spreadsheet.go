package paynestsync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oakfield/lettings_backend/models"
	"github.com/oakfield/lettings_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// HistoricalRow is one normalized line from a bank-statement workbook.
type HistoricalRow struct {
	Reference        string          `validate:"required"`
	TransactionDate  time.Time       `validate:"required"`
	Amount           decimal.Decimal `validate:"required"`
	Description      string
	PropertyRemoteId string
	CategoryName     string
}

// Expected column order: reference, date, amount, description, property id,
// category. The first row is a header.
const historicalColumns = 6

// ParseHistoricalWorkbook reads the first sheet of a statement workbook
// into normalized rows. Row-level problems come back as messages so the
// caller can show the full picture of the import.
func ParseHistoricalWorkbook(r io.Reader) ([]HistoricalRow, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read sheet: %v", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("workbook has no data rows")
	}

	var parsed []HistoricalRow
	var problems []string

	for idx, row := range rows[1:] {
		rowNo := idx + 2
		if len(row) < 3 {
			problems = append(problems, fmt.Sprintf("row %d: too few columns", rowNo))
			continue
		}
		for len(row) < historicalColumns {
			row = append(row, "")
		}

		reference := strings.TrimSpace(row[0])
		if reference == "" {
			problems = append(problems, fmt.Sprintf("row %d: reference missing", rowNo))
			continue
		}

		date, err := parseStatementDate(row[1])
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", rowNo, err))
			continue
		}

		amount, err := utils.ParseDecimal(row[2])
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: could not parse amount: %v", rowNo, err))
			continue
		}

		record := HistoricalRow{
			Reference:        reference,
			TransactionDate:  date,
			Amount:           amount,
			Description:      strings.TrimSpace(row[3]),
			PropertyRemoteId: strings.TrimSpace(row[4]),
			CategoryName:     strings.TrimSpace(row[5]),
		}
		if err := utils.ValidateStruct(record); err != nil {
			if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
				for field, rule := range fields {
					problems = append(problems, fmt.Sprintf("row %d: %s failed %s validation", rowNo, field, rule))
				}
			} else {
				problems = append(problems, fmt.Sprintf("row %d: %v", rowNo, err))
			}
			continue
		}
		parsed = append(parsed, record)
	}

	return parsed, problems, nil
}

var statementDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2-Jan-06",
	"01-02-06",
}

func parseStatementDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("date missing")
	}
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// ImportHistoricalWorkbook parses and ingests a statement workbook under
// the historical data source. Same idempotence rules as remote ingestion:
// re-importing the same file only reports duplicates.
func ImportHistoricalWorkbook(ctx context.Context, db *gorm.DB, r io.Reader) (*SyncResult, error) {
	rows, problems, err := ParseHistoricalWorkbook(r)
	if err != nil {
		return nil, err
	}

	result := NewSyncResult()
	for _, problem := range problems {
		result.Reject(RejectMissingData)
		if len(result.Errors) < defaultErrorCap {
			result.Errors = append(result.Errors, problem)
		}
	}

	txns := make([]*models.FinancialTransaction, 0, len(rows))
	for _, row := range rows {
		txnType := InferTransactionType(row.CategoryName, row.Description, "")
		txns = append(txns, &models.FinancialTransaction{
			RemoteId:         row.Reference,
			DataSource:       models.DataSourceHistoricalImport,
			Amount:           row.Amount,
			TransactionDate:  row.TransactionDate,
			TransactionType:  txnType,
			Description:      row.Description,
			PropertyRemoteId: row.PropertyRemoteId,
			CategoryName:     row.CategoryName,
			IsActual:         true,
		})
	}

	IngestTransactions(ctx, db, txns, result)
	result.Finalize()
	return result, nil
}
