package models

// MemberRecord mirrors one row of the remote roster worksheet. The mirror
// is replaced wholesale on every successful import; names are not unique
// and are matched against check-ins case- and trim-insensitively.
type MemberRecord struct {
	ID   uint   `gorm:"primarykey;column:id" json:"id"`
	Name string `gorm:"column:name;not null" json:"name"`
	// YearOfBirth is opaque user-entered text ("1990", "-90"); it is
	// never coerced to a number.
	YearOfBirth    *string `gorm:"column:year_of_birth" json:"yearOfBirth,omitempty"`
	MembershipType string  `gorm:"column:membership_type" json:"membershipType,omitempty"`
	LastUpdated    string  `gorm:"column:last_updated" json:"lastUpdated,omitempty"`
}

// TableName sets the table name for GORM
func (MemberRecord) TableName() string {
	return "members"
}
