package snippets

import "time"

// Snippet models the durable record for one collaborative snippet.
type Snippet struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	Title       string     `gorm:"column:title;size:200;not null"`
	OwnerID     string     `gorm:"column:owner_id;size:190;not null;index"`
	Markup      string     `gorm:"column:markup;type:text;not null"`
	Style       string     `gorm:"column:style;type:text;not null"`
	Script      string     `gorm:"column:script;type:text;not null"`
	IsPublic    bool       `gorm:"column:is_public;not null;default:true;index:idx_snippets_public_updated,priority:1"`
	Views       int64      `gorm:"column:views;not null;default:0"`
	Forks       int64      `gorm:"column:forks;not null;default:0"`
	LastSavedAt *time.Time `gorm:"column:last_saved_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime;index:idx_snippets_public_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Snippet) TableName() string {
	return "snippets"
}

// FieldContents carries the three editable field bodies without metadata.
type FieldContents struct {
	Markup string
	Style  string
	Script string
}
