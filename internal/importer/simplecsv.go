package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

const simpleCSVDateLayout = "2006-01-02"

// SimpleCSVImporter reads the generic comma-separated export format. Columns
// are matched by header name, so column order does not matter and unknown
// columns are ignored.
type SimpleCSVImporter struct{}

func NewSimpleCSVImporter() *SimpleCSVImporter { return &SimpleCSVImporter{} }

func (SimpleCSVImporter) FormatID() string              { return "simple_csv" }
func (SimpleCSVImporter) FormatName() string            { return "Simple CSV" }
func (SimpleCSVImporter) SupportedExtensions() []string { return []string{".csv"} }
func (SimpleCSVImporter) SupportsIncremental() bool     { return true }

func (imp SimpleCSVImporter) Parse(ctx context.Context, r io.Reader, emit RecordFunc, onError ErrorFunc) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("empty file")
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	cols := headerIndex(header)
	if _, ok := cols["county_voter_id"]; !ok {
		return fmt.Errorf("missing required column county_voter_id")
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			onError(line, fmt.Sprintf("malformed row: %v", err))
			continue
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		countyID := field("county_voter_id")
		first := field("first_name")
		last := field("last_name")
		if countyID == "" || first == "" || last == "" {
			onError(line, "missing county_voter_id, first_name, or last_name")
			continue
		}

		rec := &repos.VoterRecord{
			Person: &types.Person{
				FirstName:  first,
				MiddleName: field("middle_name"),
				LastName:   last,
				Suffix:     field("suffix"),
			},
			Voter: &types.Voter{
				CountyVoterID: countyID,
				Party:         field("party"),
				Precinct:      field("precinct"),
				Status:        field("status"),
			},
		}
		if d := field("registration_date"); d != "" {
			t, err := time.Parse(simpleCSVDateLayout, d)
			if err != nil {
				onError(line, fmt.Sprintf("bad registration_date %q", d))
				continue
			}
			rec.Voter.RegistrationDate = &t
		}
		if addr := field("address"); addr != "" {
			rec.Household = &types.Household{
				Address: addr,
				City:    field("city"),
				State:   field("state"),
				ZipCode: field("zip"),
			}
		}
		if phone := field("phone"); phone != "" {
			rec.Phones = append(rec.Phones, &types.Phone{Number: phone})
		}
		if email := field("email"); email != "" {
			rec.Emails = append(rec.Emails, &types.Email{Address: email})
		}

		if err := emit(line, rec); err != nil {
			return err
		}
	}
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}
