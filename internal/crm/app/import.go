package app

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/hubline/crm/internal/crm/auth"
	"github.com/hubline/crm/internal/crm/storage"
	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// ImportOutcome records what happened to one CSV row. Row numbers are
// 1-based and count the header.
type ImportOutcome struct {
	Row      int
	Name     string
	Email    string
	Inserted bool
	Updated  bool
	Err      error
}

// ImportClients reads a CSV with a header row of name, email, phone plus
// arbitrary extra columns treated as custom fields, and upserts each row
// independently. The import is deliberately non-atomic: a bad row is
// recorded and skipped while the rest proceed.
func (s *Service) ImportClients(ctx context.Context, user auth.User, r io.Reader) ([]ImportOutcome, error) {
	if err := requireRole(user, auth.RoleCRM); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeImportMalformedCSV, "read csv header", err)
	}
	columns := make([]string, len(header))
	nameCol, emailCol, phoneCol := -1, -1, -1
	for i, raw := range header {
		column := strings.ToLower(strings.TrimSpace(raw))
		columns[i] = strings.TrimSpace(raw)
		switch column {
		case "name":
			nameCol = i
		case "email":
			emailCol = i
		case "phone":
			phoneCol = i
		}
	}
	if nameCol == -1 {
		return nil, apperrors.New(apperrors.CodeImportMalformedCSV, "csv header must contain a name column")
	}

	var (
		outcomes []ImportOutcome
		pending  []storage.NewClient
		rows     []int
	)
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			outcomes = append(outcomes, ImportOutcome{
				Row: rowNum,
				Err: apperrors.Wrap(apperrors.CodeImportMalformedCSV, "read csv row", err),
			})
			continue
		}

		cell := func(idx int) string {
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return record[idx]
		}
		input := ClientInput{
			Name:  cell(nameCol),
			Email: cell(emailCol),
			Phone: cell(phoneCol),
		}
		for i, value := range record {
			if i == nameCol || i == emailCol || i == phoneCol || i >= len(columns) {
				continue
			}
			if columns[i] == "" || strings.TrimSpace(value) == "" {
				continue
			}
			if input.Fields == nil {
				input.Fields = make(map[string]string)
			}
			input.Fields[columns[i]] = strings.TrimSpace(value)
		}

		client, err := input.normalize()
		if err != nil {
			outcomes = append(outcomes, ImportOutcome{
				Row:   rowNum,
				Name:  input.Name,
				Email: input.Email,
				Err:   err,
			})
			continue
		}
		client.HubID = user.HubID
		pending = append(pending, client)
		rows = append(rows, rowNum)
	}

	results := s.store.UpsertClients(ctx, pending)
	for i, result := range results {
		outcomes = append(outcomes, ImportOutcome{
			Row:      rows[i],
			Name:     result.Name,
			Email:    result.Email,
			Inserted: result.Inserted,
			Updated:  result.Updated,
			Err:      result.Err,
		})
	}
	return outcomes, nil
}
