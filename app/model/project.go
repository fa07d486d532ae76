package model

// VideoSource 视频来源平台
type VideoSource string

const (
	SourceBilibili VideoSource = "bilibili"
	SourceTver     VideoSource = "tver"
	SourceYoutube  VideoSource = "youtube"
	SourceUnknown  VideoSource = "unknown"
)

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusQueued      ProjectStatus = "queued"
	ProjectStatusDownloading ProjectStatus = "downloading"
	ProjectStatusASR         ProjectStatus = "asr"
	ProjectStatusTranslating ProjectStatus = "translating"
	ProjectStatusCompleted   ProjectStatus = "completed"
	ProjectStatusFailed      ProjectStatus = "failed"
	ProjectStatusCanceling   ProjectStatus = "canceling"
	ProjectStatusCanceled    ProjectStatus = "canceled"
)

// Project 字幕项目模型，一个项目对应一个源视频
type Project struct {
	ID              uint          `json:"-" gorm:"primaryKey"`
	ProjectID       string        `json:"project_id" gorm:"not null;uniqueIndex"`
	Source          VideoSource   `json:"source" gorm:"size:20;not null;uniqueIndex:idx_source_video"`
	SourceVideoID   string        `json:"source_video_id" gorm:"not null;uniqueIndex:idx_source_video"`
	OriginalInput   string        `json:"original_input" gorm:"not null"`
	TranslationHint string        `json:"translation_hint"`
	Status          ProjectStatus `json:"status" gorm:"size:20;default:queued;index"`

	// 流水线产出
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	SourceURL    string `json:"source_url"`
	MediaPath    string `json:"media_path"`
	SubtitlePath string `json:"subtitle_path"`
	AsrVttPath   string `json:"asr_vtt_path"`

	// LLM 用量与成本
	LLMCostTwd   float64 `json:"llm_cost_twd" gorm:"default:0"`
	LLMProvider  string  `json:"llm_provider"`
	LLMModel     string  `json:"llm_model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli;index"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime:milli"`

	// 关联关系
	Tasks []Task `json:"tasks,omitempty" gorm:"foreignKey:ProjectID;references:ProjectID"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}

// IsTerminal 项目是否处于终态
func (p *Project) IsTerminal() bool {
	switch p.Status {
	case ProjectStatusCompleted, ProjectStatusFailed, ProjectStatusCanceled:
		return true
	}
	return false
}
