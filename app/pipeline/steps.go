package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"grill-master/app/model"
	"grill-master/app/provider"
	"grill-master/app/store"
	"grill-master/app/subtitle"
	"grill-master/app/tasklog"
	"grill-master/app/utils/retry"
)

// 步骤标识，检查点按此持久化
const (
	StepFetchMetadata   = "fetch_metadata"
	StepDownloadVideo   = "download_video"
	StepExtractAudio    = "extract_audio"
	StepRunASR          = "run_asr"
	StepTranslate       = "translate_subtitles"
	StepBuildVtt        = "build_vtt"
	StepFinalizeProject = "finalize_project"

	// StepDone 任务完成后的最终步骤名
	StepDone = "done"
)

// 项目目录内的固定文件名
const (
	videoFileName         = "video.mp4"
	audioFileName         = "audio.opus"
	asrJsonFileName       = "asr.json"
	asrSrtFileName        = "asr.srt"
	asrVttFileName        = "asr.vtt"
	translatedSrtFileName = "video.srt"
	translatedVttFileName = "video.vtt"
	metadataFileName      = "metadata.info.json"
)

// stepDef 一个流水线步骤：进入时写入的进度与项目状态，以及步骤体
type stepDef struct {
	ID            string
	Message       string
	Percent       int
	ProjectStatus model.ProjectStatus
	Run           func(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error)
}

// steps 固定的执行顺序
var steps = []stepDef{
	{StepFetchMetadata, "获取视频信息", 10, model.ProjectStatusDownloading, runFetchMetadata},
	{StepDownloadVideo, "下载视频", 25, model.ProjectStatusDownloading, runDownloadVideo},
	{StepExtractAudio, "提取音频", 40, model.ProjectStatusASR, runExtractAudio},
	{StepRunASR, "语音识别", 55, model.ProjectStatusASR, runASRStep},
	{StepTranslate, "翻译字幕", 75, model.ProjectStatusTranslating, runTranslateStep},
	{StepBuildVtt, "生成 VTT 字幕", 88, model.ProjectStatusTranslating, runBuildVtt},
	{StepFinalizeProject, "收尾项目", 95, model.ProjectStatusTranslating, runFinalizeProject},
}

// stepContext 单次任务执行期间的共享上下文
type stepContext struct {
	item       QueueItem
	project    *model.Project
	projectDir string
	sourceURL  string

	videoPath         string
	audioPath         string
	asrJsonPath       string
	asrSrtPath        string
	asrVttPath        string
	translatedSrtPath string
	translatedVttPath string

	// states 当前检查点快照，每步完成后重新加载
	states map[string]model.TaskStepState

	// shouldCancel 子进程输出块之间轮询的取消谓词
	shouldCancel func() bool
}

func newStepContext(item QueueItem, project *model.Project, projectDir, sourceURL string) *stepContext {
	return &stepContext{
		item:              item,
		project:           project,
		projectDir:        projectDir,
		sourceURL:         sourceURL,
		videoPath:         filepath.Join(projectDir, videoFileName),
		audioPath:         filepath.Join(projectDir, audioFileName),
		asrJsonPath:       filepath.Join(projectDir, asrJsonFileName),
		asrSrtPath:        filepath.Join(projectDir, asrSrtFileName),
		asrVttPath:        filepath.Join(projectDir, asrVttFileName),
		translatedSrtPath: filepath.Join(projectDir, translatedSrtFileName),
		translatedVttPath: filepath.Join(projectDir, translatedVttFileName),
		states:            map[string]model.TaskStepState{},
	}
}

// relPath 媒体服务使用的项目相对路径
func (sc *stepContext) relPath(name string) string {
	return sc.item.ProjectID + "/" + name
}

// 各步骤的结构化输出，完成时随检查点持久化

type fetchMetadataOutput struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	SourceURL    string `json:"source_url"`
}

type downloadVideoOutput struct {
	MediaPath    string `json:"media_path"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type extractAudioOutput struct {
	AudioPath string `json:"audio_path"`
}

type runASROutput struct {
	AsrJsonPath string `json:"asr_json_path"`
	AsrSrtPath  string `json:"asr_srt_path"`
}

type translateOutput struct {
	Translation *provider.TranslationResult `json:"translation"`
}

type buildVttOutput struct {
	SubtitlePath string `json:"subtitle_path"`
}

type finalizeOutput struct {
	MediaPath    string `json:"media_path"`
	SubtitlePath string `json:"subtitle_path"`
}

// runFetchMetadata 取回视频元数据并更新项目标题与封面
func runFetchMetadata(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	out, err := retry.Do(func() (*fetchMetadataOutput, error) {
		return r.fetchMetadata(sc, log)
	}, retry.Options{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		Jitter:     true,
		OnRetry:    logRetry(log, "获取视频信息"),
	})
	if err != nil {
		return nil, err
	}

	status := model.ProjectStatusDownloading
	update := store.ProjectUpdate{
		Status:    &status,
		SourceURL: &out.SourceURL,
		Title:     &out.Title,
	}
	if out.ThumbnailURL != "" {
		update.ThumbnailURL = &out.ThumbnailURL
	}
	if err := r.store.UpdateProjectFromPipeline(sc.item.ProjectID, update); err != nil {
		return nil, err
	}
	return out, nil
}

// runDownloadVideo 下载并合并视频，产出 video.mp4
func runDownloadVideo(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	return retry.Do(func() (*downloadVideoOutput, error) {
		return r.downloadVideo(sc, log)
	}, retry.Options{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		Jitter:     true,
		OnRetry:    logRetry(log, "下载视频"),
	})
}

// runExtractAudio 从视频提取单声道 16kHz 的 opus 音频
func runExtractAudio(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	return retry.Do(func() (*extractAudioOutput, error) {
		if err := r.extractAudio(sc, log); err != nil {
			return nil, err
		}
		return &extractAudioOutput{AudioPath: sc.relPath(audioFileName)}, nil
	}, retry.Options{
		MaxRetries: 2,
		BaseDelay:  800 * time.Millisecond,
		Jitter:     true,
		OnRetry:    logRetry(log, "提取音频"),
	})
}

// runASRStep 调用识别供应商产出 asr.json/asr.srt，并衍生 asr.vtt
func runASRStep(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	if err := r.asr.RunASR(provider.ASRRequest{
		ProjectID:      sc.item.ProjectID,
		AudioPath:      sc.audioPath,
		OutputJsonPath: sc.asrJsonPath,
		OutputSrtPath:  sc.asrSrtPath,
		Logger:         log,
	}); err != nil {
		return nil, err
	}

	// 原文字幕的 VTT 版本，供播放器直接加载
	if err := subtitle.ConvertSrtFileToVtt(sc.asrSrtPath, sc.asrVttPath); err != nil {
		return nil, err
	}
	asrVtt := sc.relPath(asrVttFileName)
	if err := r.store.UpdateProjectFromPipeline(sc.item.ProjectID, store.ProjectUpdate{
		AsrVttPath: &asrVtt,
	}); err != nil {
		return nil, err
	}

	return &runASROutput{
		AsrJsonPath: sc.relPath(asrJsonFileName),
		AsrSrtPath:  sc.relPath(asrSrtFileName),
	}, nil
}

// runTranslateStep 调用翻译供应商产出 video.srt，并记录用量成本
func runTranslateStep(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	result, err := r.translate.Translate(provider.TranslateRequest{
		ProjectID:       sc.item.ProjectID,
		AsrSrtPath:      sc.asrSrtPath,
		AudioPath:       sc.audioPath,
		OutputSrtPath:   sc.translatedSrtPath,
		TranslationHint: sc.project.TranslationHint,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	status := model.ProjectStatusTranslating
	if err := r.store.UpdateProjectFromPipeline(sc.item.ProjectID, store.ProjectUpdate{
		Status:       &status,
		LLMProvider:  &result.LLMProvider,
		LLMModel:     &result.LLMModel,
		InputTokens:  &result.InputTokens,
		OutputTokens: &result.OutputTokens,
		LLMCostTwd:   &result.TotalCostTwd,
	}); err != nil {
		return nil, err
	}
	return &translateOutput{Translation: result}, nil
}

// runBuildVtt 把翻译后的 SRT 转为 WebVTT
func runBuildVtt(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	if err := subtitle.ConvertSrtFileToVtt(sc.translatedSrtPath, sc.translatedVttPath); err != nil {
		return nil, err
	}
	log.Info("VTT 字幕已生成")
	return &buildVttOutput{SubtitlePath: sc.relPath(translatedVttFileName)}, nil
}

// runFinalizeProject 汇总各步骤检查点的输出，把项目置为 completed。
// 检查点损坏时对应字段跳过，不中断收尾。
func runFinalizeProject(r *Runner, sc *stepContext, log *tasklog.Logger) (interface{}, error) {
	status := model.ProjectStatusCompleted
	update := store.ProjectUpdate{Status: &status}
	out := &finalizeOutput{}

	var meta fetchMetadataOutput
	if readCheckpoint(sc, StepFetchMetadata, &meta) {
		update.Title = &meta.Title
		update.SourceURL = &meta.SourceURL
		if meta.ThumbnailURL != "" {
			update.ThumbnailURL = &meta.ThumbnailURL
		}
	} else {
		log.Warn("缺少元数据检查点，标题与来源地址保持现状")
	}

	var dl downloadVideoOutput
	if readCheckpoint(sc, StepDownloadVideo, &dl) {
		update.MediaPath = &dl.MediaPath
		out.MediaPath = dl.MediaPath
		if dl.ThumbnailURL != "" {
			update.ThumbnailURL = &dl.ThumbnailURL
		}
	} else {
		log.Warn("缺少下载检查点，媒体路径保持现状")
	}

	var tr translateOutput
	if readCheckpoint(sc, StepTranslate, &tr) && tr.Translation != nil {
		update.LLMProvider = &tr.Translation.LLMProvider
		update.LLMModel = &tr.Translation.LLMModel
		update.InputTokens = &tr.Translation.InputTokens
		update.OutputTokens = &tr.Translation.OutputTokens
		update.LLMCostTwd = &tr.Translation.TotalCostTwd
	}

	var vtt buildVttOutput
	if readCheckpoint(sc, StepBuildVtt, &vtt) {
		update.SubtitlePath = &vtt.SubtitlePath
		out.SubtitlePath = vtt.SubtitlePath
	}

	if err := r.store.UpdateProjectFromPipeline(sc.item.ProjectID, update); err != nil {
		return nil, err
	}
	return out, nil
}

// readCheckpoint 解析某步骤已完成检查点的输出，损坏视为不存在
func readCheckpoint(sc *stepContext, step string, dst interface{}) bool {
	state, ok := sc.states[step]
	if !ok || state.Status != model.StepStatusCompleted || state.OutputJson == "" {
		return false
	}
	return json.Unmarshal([]byte(state.OutputJson), dst) == nil
}

func logRetry(log *tasklog.Logger, what string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		log.Warn(fmt.Sprintf("%s失败，%v 后第 %d 次重试: %v", what, delay.Round(time.Millisecond), attempt, err))
	}
}

// writeFileAtomic 收尾前确保目录存在再写文件
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
