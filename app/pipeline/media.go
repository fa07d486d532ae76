package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"grill-master/app/provider"
	"grill-master/app/tasklog"
	"grill-master/app/utils/command"
)

// yt-dlp / ffmpeg 子进程调用。输出逐行回写任务事件，
// 取消谓词命中时子进程被直接终止。

const concatFileName = "concat.txt"

// runProcess 在项目目录内运行外部命令，取消错误原样上抛，其余按可重试包装
func (r *Runner) runProcess(sc *stepContext, log *tasklog.Logger, op, bin string, args []string) (*command.Result, error) {
	result, err := command.Run(bin, args, command.Options{
		Cwd:          sc.projectDir,
		OnStdoutLine: log.Trace,
		OnStderrLine: log.Debug,
		ShouldCancel: sc.shouldCancel,
	})
	if err != nil {
		if command.IsCanceled(err) {
			return result, err
		}
		return result, provider.NewRetryable(op, err)
	}
	return result, nil
}

// fetchMetadata 只取元数据不下载。yt-dlp 把 JSON 打在 stdout 的
// 最后一行，之前可能混有进度输出。
func (r *Runner) fetchMetadata(sc *stepContext, log *tasklog.Logger) (*fetchMetadataOutput, error) {
	args := []string{"--dump-single-json", "--skip-download", sc.sourceURL}
	result, err := r.runProcess(sc, log, "获取视频信息", r.cfg.Pipeline.YtDlpBin, args)
	if err != nil {
		return nil, err
	}

	line := lastNonEmptyLine(result.Stdout)
	if line == "" {
		return nil, provider.NewRetryable("获取视频信息", fmt.Errorf("yt-dlp 没有输出元数据"))
	}

	var meta struct {
		Title     string `json:"title"`
		Thumbnail string `json:"thumbnail"`
	}
	if err := json.Unmarshal([]byte(line), &meta); err != nil {
		return nil, provider.NewRetryable("获取视频信息", fmt.Errorf("解析元数据 JSON 失败: %w", err))
	}

	if err := writeFileAtomic(filepath.Join(sc.projectDir, metadataFileName), []byte(line)); err != nil {
		return nil, provider.NewPermanent("保存元数据", err)
	}

	title := meta.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(sc.videoPath), filepath.Ext(sc.videoPath))
	}
	log.Info("视频标题: " + title)

	return &fetchMetadataOutput{
		Title:        title,
		ThumbnailURL: meta.Thumbnail,
		SourceURL:    sc.sourceURL,
	}, nil
}

// downloadVideo 下载最佳画质并合并为单个 video.mp4。
// 多分段时用 concat demuxer 无重编码拼接。
func (r *Runner) downloadVideo(sc *stepContext, log *tasklog.Logger) (*downloadVideoOutput, error) {
	args := []string{
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"--write-info-json",
		"--embed-metadata",
		"--embed-chapters",
		"-o", "%(playlist_index|0)s.%(ext)s",
		"-o", "thumbnail:poster.%(ext)s",
		"-o", "infojson:metadata.%(ext)s",
		sc.sourceURL,
	}
	if _, err := r.runProcess(sc, log, "下载视频", r.cfg.Pipeline.YtDlpBin, args); err != nil {
		return nil, err
	}

	if err := r.combineParts(sc, log); err != nil {
		return nil, err
	}

	out := &downloadVideoOutput{MediaPath: sc.relPath(videoFileName)}
	if poster := findPoster(sc.projectDir); poster != "" {
		out.ThumbnailURL = sc.relPath(poster)
	}
	return out, nil
}

// combineParts 把下载下来的分段规整成 video.mp4
func (r *Runner) combineParts(sc *stepContext, log *tasklog.Logger) error {
	parts, err := listVideoParts(sc.projectDir)
	if err != nil {
		return provider.NewPermanent("扫描视频分段", err)
	}

	switch len(parts) {
	case 0:
		// 重试进入时分段可能已在上一轮合并完成
		if _, statErr := os.Stat(sc.videoPath); statErr == nil {
			log.Debug("视频已合并，跳过")
			return nil
		}
		return provider.NewPermanent("合并视频", fmt.Errorf("项目目录中没有 mp4 分段"))

	case 1:
		if err := os.Rename(filepath.Join(sc.projectDir, parts[0]), sc.videoPath); err != nil {
			return provider.NewPermanent("合并视频", err)
		}
		return nil
	}

	log.Info(fmt.Sprintf("合并 %d 个视频分段", len(parts)))

	var list strings.Builder
	for _, part := range parts {
		// concat 清单里的单引号成对转义
		list.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(part, "'", "''")))
	}
	concatPath := filepath.Join(sc.projectDir, concatFileName)
	if err := os.WriteFile(concatPath, []byte(list.String()), 0644); err != nil {
		return provider.NewPermanent("写入合并清单", err)
	}

	ffmpegArgs := []string{
		"-y", "-f", "concat", "-safe", "0",
		"-i", concatFileName,
		"-c", "copy", "-movflags", "faststart",
		videoFileName,
	}
	if _, err := r.runProcess(sc, log, "合并视频", r.cfg.Pipeline.FfmpegBin, ffmpegArgs); err != nil {
		return err
	}

	for _, part := range parts {
		if err := os.Remove(filepath.Join(sc.projectDir, part)); err != nil {
			log.Warn(fmt.Sprintf("删除分段失败 %s: %v", part, err))
		}
	}
	if err := os.Remove(concatPath); err != nil {
		log.Warn(fmt.Sprintf("删除合并清单失败: %v", err))
	}
	return nil
}

// extractAudio 提取单声道 16kHz 24k 码率的 opus 音频
func (r *Runner) extractAudio(sc *stepContext, log *tasklog.Logger) error {
	args := []string{
		"-y", "-i", videoFileName,
		"-ac", "1", "-ar", "16000", "-b:a", "24k",
		audioFileName,
	}
	_, err := r.runProcess(sc, log, "提取音频", r.cfg.Pipeline.FfmpegBin, args)
	return err
}

// listVideoParts 项目目录下按字典序排列的 mp4 分段，不含最终产物
func listVideoParts(projectDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(projectDir, "*.mp4"))
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, m := range matches {
		name := filepath.Base(m)
		if name == videoFileName {
			continue
		}
		parts = append(parts, name)
	}
	sort.Strings(parts)
	return parts, nil
}

// findPoster 项目目录下的封面文件名，没有则为空
func findPoster(projectDir string) string {
	matches, err := filepath.Glob(filepath.Join(projectDir, "poster.*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return filepath.Base(matches[0])
}

// lastNonEmptyLine 取文本中最后一个非空行
func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
