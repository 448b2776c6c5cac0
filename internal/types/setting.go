package types

import "time"

// Setting is one row of persisted process configuration (worker pool sizes and
// similar knobs read at startup).
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Setting) TableName() string { return "setting" }
