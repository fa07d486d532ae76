package command

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrCanceled 取消谓词命中后子进程被终止
var ErrCanceled = errors.New("命令已取消")

// IsCanceled 判断错误是否来自取消终止
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Options 子进程运行选项
type Options struct {
	Cwd string // 工作目录，空则继承当前目录

	// OnStdoutLine / OnStderrLine 对每一行输出回调，行尾换行已去除
	OnStdoutLine func(line string)
	OnStderrLine func(line string)

	// ShouldCancel 取消谓词，每个输出块之后轮询一次；
	// 返回 true 时终止子进程并以 ErrCanceled 失败
	ShouldCancel func() bool
}

// Result 子进程的完整输出
type Result struct {
	Stdout string
	Stderr string
}

// cancelPollInterval 子进程无输出时的取消轮询间隔
const cancelPollInterval = 200 * time.Millisecond

// Run 运行外部命令：stdin 关闭、stdout/stderr 管道逐行回调、无 shell 展开。
// 非零退出码返回携带命令、参数和 stderr（退化为 stdout）的错误。
func Run(path string, args []string, opts Options) (*Result, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = nil
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动命令失败 %s: %w", path, err)
	}

	canceled := false
	var cancelMu sync.Mutex
	checkCancel := func() {
		if opts.ShouldCancel == nil {
			return
		}
		cancelMu.Lock()
		defer cancelMu.Unlock()
		if canceled {
			return
		}
		if opts.ShouldCancel() {
			canceled = true
			_ = cmd.Process.Kill()
		}
	}

	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdoutPipe, &stdout, opts.OnStdoutLine, checkCancel, &wg)
	go streamLines(stderrPipe, &stderr, opts.OnStderrLine, checkCancel, &wg)

	// 子进程长时间无输出时也要能观察到取消
	done := make(chan struct{})
	if opts.ShouldCancel != nil {
		go func() {
			ticker := time.NewTicker(cancelPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					checkCancel()
				}
			}
		}()
	}

	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	cancelMu.Lock()
	wasCanceled := canceled
	cancelMu.Unlock()
	if wasCanceled {
		return result, fmt.Errorf("%w: %s", ErrCanceled, describe(path, args))
	}

	if waitErr != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(result.Stdout)
		}
		return result, fmt.Errorf("命令执行失败 %s: %v\n%s", describe(path, args), waitErr, detail)
	}
	return result, nil
}

func describe(path string, args []string) string {
	if len(args) == 0 {
		return path
	}
	return path + " " + strings.Join(args, " ")
}

// streamLines 按 \r?\n 切分输出流，逐行回调，结束时冲刷残留尾巴
func streamLines(r io.Reader, sink *strings.Builder, onLine func(string), afterChunk func(), wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 4096)
	var pending strings.Builder

	emit := func(line string) {
		if onLine != nil {
			onLine(strings.TrimSuffix(line, "\r"))
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			sink.WriteString(chunk)

			pending.WriteString(chunk)
			text := pending.String()
			for {
				idx := strings.IndexByte(text, '\n')
				if idx < 0 {
					break
				}
				emit(text[:idx])
				text = text[idx+1:]
			}
			pending.Reset()
			pending.WriteString(text)

			if afterChunk != nil {
				afterChunk()
			}
		}
		if err != nil {
			// 冲刷最后一行（无换行结尾的尾巴）
			if tail := pending.String(); tail != "" {
				emit(tail)
			}
			return
		}
	}
}
