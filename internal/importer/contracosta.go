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

const contraCostaDateLayout = "01/02/2006"

// ContraCostaImporter reads the tab-separated export produced by the Contra
// Costa County elections office. The columns follow the county's DIMS naming
// (szNameFirst, lVoterUniqueID, ...), matched by header so partial exports
// still parse.
type ContraCostaImporter struct{}

func NewContraCostaImporter() *ContraCostaImporter { return &ContraCostaImporter{} }

func (ContraCostaImporter) FormatID() string              { return "contra_costa" }
func (ContraCostaImporter) FormatName() string            { return "Contra Costa County" }
func (ContraCostaImporter) SupportedExtensions() []string { return []string{".txt", ".tsv"} }
func (ContraCostaImporter) SupportsIncremental() bool     { return true }

func (imp ContraCostaImporter) Parse(ctx context.Context, r io.Reader, emit RecordFunc, onError ErrorFunc) error {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("empty file")
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	cols := headerIndex(header)
	if _, ok := cols["lvoteruniqueid"]; !ok {
		return fmt.Errorf("missing required column lVoterUniqueID")
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
			i, ok := cols[strings.ToLower(name)]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		countyID := field("lVoterUniqueID")
		first := field("szNameFirst")
		last := field("szNameLast")
		if countyID == "" || first == "" || last == "" {
			onError(line, "missing lVoterUniqueID, szNameFirst, or szNameLast")
			continue
		}

		rec := &repos.VoterRecord{
			Person: &types.Person{
				FirstName:  first,
				MiddleName: field("szNameMiddle"),
				LastName:   last,
				Suffix:     field("sNameSuffix"),
			},
			Voter: &types.Voter{
				CountyVoterID: countyID,
				Party:         field("szPartyName"),
				Precinct:      field("sPrecinctID"),
				Status:        field("sStatusCode"),
			},
		}
		if d := field("dtRegDate"); d != "" {
			t, err := time.Parse(contraCostaDateLayout, d)
			if err != nil {
				onError(line, fmt.Sprintf("bad dtRegDate %q", d))
				continue
			}
			rec.Voter.RegistrationDate = &t
		}
		if addr := field("szSitusAddress"); addr != "" {
			rec.Household = &types.Household{
				Address: addr,
				City:    field("szSitusCity"),
				State:   orDefault(field("sSitusState"), "CA"),
				ZipCode: zipFive(field("sSitusZip")),
			}
		}
		if phone := field("szPhone"); phone != "" {
			rec.Phones = append(rec.Phones, &types.Phone{Number: phone})
		}
		if email := field("szEmailAddress"); email != "" {
			rec.Emails = append(rec.Emails, &types.Email{Address: email})
		}

		if err := emit(line, rec); err != nil {
			return err
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// zipFive trims ZIP+4 down to the five-digit prefix.
func zipFive(zip string) string {
	if i := strings.IndexByte(zip, '-'); i > 0 {
		return zip[:i]
	}
	if len(zip) > 5 {
		return zip[:5]
	}
	return zip
}
