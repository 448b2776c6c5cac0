package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// VoterRecord is one fully-assembled record coming out of an importer: the
// person, the registration, and any contact rows discovered on the same line.
type VoterRecord struct {
	Person    *types.Person
	Voter     *types.Voter
	Household *types.Household
	Phones    []*types.Phone
	Emails    []*types.Email
}

type VoterRepo interface {
	FindVoterByCountyID(dbc dbctx.Context, countyVoterID string) (*types.Voter, error)
	// CreateRecord persists a new person with registration and contacts in one
	// transaction. The household, when present, is matched by address first so
	// repeated imports do not multiply households.
	CreateRecord(dbc dbctx.Context, rec *VoterRecord) error
	// UpdateRecord refreshes the person/registration rows behind an existing
	// voter. Contacts are append-only: unknown numbers/addresses are added.
	UpdateRecord(dbc dbctx.Context, existing *types.Voter, rec *VoterRecord) error
}

type voterRepo struct {
	db         *gorm.DB
	log        *logger.Logger
	households HouseholdRepo
}

func NewVoterRepo(db *gorm.DB, baseLog *logger.Logger, households HouseholdRepo) VoterRepo {
	return &voterRepo{
		db:         db,
		log:        baseLog.With("repo", "VoterRepo"),
		households: households,
	}
}

func (r *voterRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *voterRepo) FindVoterByCountyID(dbc dbctx.Context, countyVoterID string) (*types.Voter, error) {
	if countyVoterID == "" {
		return nil, nil
	}
	var v types.Voter
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("county_voter_id = ?", countyVoterID).
		Limit(1).
		Find(&v).Error
	if err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *voterRepo) CreateRecord(dbc dbctx.Context, rec *VoterRecord) error {
	if rec == nil || rec.Person == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}

		if rec.Household != nil {
			existing, err := r.households.FindByAddress(txc,
				rec.Household.Address, rec.Household.City, rec.Household.State, rec.Household.ZipCode)
			if err != nil {
				return err
			}
			if existing != nil {
				rec.Household = existing
			} else {
				if rec.Household.ID == uuid.Nil {
					rec.Household.ID = uuid.New()
				}
				if _, err := r.households.Create(txc, []*types.Household{rec.Household}); err != nil {
					return err
				}
			}
			rec.Person.HouseholdID = &rec.Household.ID
		}

		if rec.Person.ID == uuid.Nil {
			rec.Person.ID = uuid.New()
		}
		if err := tx.Create(rec.Person).Error; err != nil {
			return err
		}

		if rec.Voter != nil {
			if rec.Voter.ID == uuid.Nil {
				rec.Voter.ID = uuid.New()
			}
			rec.Voter.PersonID = rec.Person.ID
			if err := tx.Create(rec.Voter).Error; err != nil {
				return err
			}
		}

		return r.appendContacts(tx, rec.Person.ID, rec.Phones, rec.Emails)
	})
}

func (r *voterRepo) UpdateRecord(dbc dbctx.Context, existing *types.Voter, rec *VoterRecord) error {
	if existing == nil || rec == nil || rec.Person == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		personUpdates := map[string]interface{}{
			"first_name":  rec.Person.FirstName,
			"middle_name": rec.Person.MiddleName,
			"last_name":   rec.Person.LastName,
			"suffix":      rec.Person.Suffix,
		}
		if err := tx.Model(&types.Person{}).
			Where("id = ?", existing.PersonID).
			Updates(personUpdates).Error; err != nil {
			return err
		}

		if rec.Voter != nil {
			voterUpdates := map[string]interface{}{
				"party":    rec.Voter.Party,
				"precinct": rec.Voter.Precinct,
				"status":   rec.Voter.Status,
			}
			if rec.Voter.RegistrationDate != nil {
				voterUpdates["registration_date"] = rec.Voter.RegistrationDate
			}
			if err := tx.Model(&types.Voter{}).
				Where("id = ?", existing.ID).
				Updates(voterUpdates).Error; err != nil {
				return err
			}
		}

		return r.appendContacts(tx, existing.PersonID, rec.Phones, rec.Emails)
	})
}

func (r *voterRepo) appendContacts(tx *gorm.DB, personID uuid.UUID, phones []*types.Phone, emails []*types.Email) error {
	for _, p := range phones {
		if p == nil || p.Number == "" {
			continue
		}
		var count int64
		if err := tx.Model(&types.Phone{}).
			Where("person_id = ? AND number = ?", personID, p.Number).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		p.ID = uuid.New()
		p.PersonID = personID
		if err := tx.Create(p).Error; err != nil {
			return err
		}
	}
	for _, e := range emails {
		if e == nil || e.Address == "" {
			continue
		}
		var count int64
		if err := tx.Model(&types.Email{}).
			Where("person_id = ? AND address = ?", personID, e.Address).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		e.ID = uuid.New()
		e.PersonID = personID
		if err := tx.Create(e).Error; err != nil {
			return err
		}
	}
	return nil
}
