package models

import (
	"time"
)

// CommandRecord is one journaled command submission
type CommandRecord struct {
	CommandID   string    `gorm:"primaryKey;type:varchar(26);column:command_id"`
	Party       string    `gorm:"type:varchar(255);not null;index;column:party"`
	Action      string    `gorm:"type:varchar(32);not null;column:action"`
	Control     string    `gorm:"type:varchar(255);column:control"`
	Target      string    `gorm:"type:text;column:target"`
	Accepted    bool      `gorm:"not null;default:false;column:accepted"`
	Diagnostic  string    `gorm:"type:text;column:diagnostic"`
	SubmittedAt time.Time `gorm:"not null;column:submitted_at"`
	CompletedAt time.Time `gorm:"not null;column:completed_at"`
}

// TableName specifies the table name for CommandRecord
func (CommandRecord) TableName() string {
	return "dat_command_journal"
}
