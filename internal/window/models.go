package window

import "time"

// Well known feature keys.
const (
	FeatureSpin       = "spin"
	FeatureAdViews    = "ad_views"
	FeatureLoginBonus = "login_bonus"
)

// DayLayout formats window dates.
const DayLayout = "2006-01-02"

type Counter struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_daily_counter_user_feature,priority:1"`
	FeatureKey string    `gorm:"column:feature_key;type:varchar(64);not null;uniqueIndex:idx_daily_counter_user_feature,priority:2"`
	Count      int       `gorm:"column:count;not null;default:0"`
	WindowDate string    `gorm:"column:window_date;type:varchar(10);not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (Counter) TableName() string { return "daily_counters" }

type Result struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}
