package types

import (
	"time"

	"github.com/google/uuid"
)

// Person is one individual on the rolls; voters, phones and emails hang off it.
type Person struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	HouseholdID *uuid.UUID `gorm:"type:uuid;column:household_id;index" json:"household_id,omitempty"`
	FirstName   string     `gorm:"column:first_name;not null" json:"first_name"`
	MiddleName  string     `gorm:"column:middle_name" json:"middle_name,omitempty"`
	LastName    string     `gorm:"column:last_name;not null;index" json:"last_name"`
	Suffix      string     `gorm:"column:suffix" json:"suffix,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (Person) TableName() string { return "person" }

// Voter is the registration record for a person. CountyVoterID is the
// format-specific unique key incremental imports upsert on.
type Voter struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PersonID         uuid.UUID  `gorm:"type:uuid;column:person_id;not null;index" json:"person_id"`
	CountyVoterID    string     `gorm:"column:county_voter_id;uniqueIndex" json:"county_voter_id"`
	Party            string     `gorm:"column:party" json:"party,omitempty"`
	RegistrationDate *time.Time `gorm:"column:registration_date" json:"registration_date,omitempty"`
	Precinct         string     `gorm:"column:precinct;index" json:"precinct,omitempty"`
	Status           string     `gorm:"column:status" json:"status,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

func (Voter) TableName() string { return "voter" }

type Phone struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PersonID  uuid.UUID `gorm:"type:uuid;column:person_id;not null;index" json:"person_id"`
	Number    string    `gorm:"column:number;not null" json:"number"`
	Kind      string    `gorm:"column:kind" json:"kind,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Phone) TableName() string { return "phone" }

type Email struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PersonID  uuid.UUID `gorm:"type:uuid;column:person_id;not null;index" json:"person_id"`
	Address   string    `gorm:"column:address;not null" json:"address"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Email) TableName() string { return "email" }
