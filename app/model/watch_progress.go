package model

// WatchProgress 每个观众在每个项目上的播放进度，与流水线执行无关
type WatchProgress struct {
	ID          uint    `json:"-" gorm:"primaryKey"`
	ProjectID   string  `json:"project_id" gorm:"not null;uniqueIndex:idx_project_viewer;index"`
	ViewerID    string  `json:"viewer_id" gorm:"not null;uniqueIndex:idx_project_viewer"`
	PositionSec float64 `json:"position_sec"`
	DurationSec float64 `json:"duration_sec"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

// TableName 指定表名
func (WatchProgress) TableName() string {
	return "watch_progress"
}
