package retry

import (
	"errors"
	"math/rand"
	"time"
)

// Retryable 可重试错误实现的接口
type Retryable interface {
	IsRetryable() bool
}

// IsRetryable 判断错误链上是否带可重试标记
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Options 退避重试参数
type Options struct {
	MaxRetries  int           // 失败后的最大重试次数
	BaseDelay   time.Duration // 首次重试延迟
	MaxDelay    time.Duration // 延迟上限，0 表示不设上限
	Jitter      bool          // 是否加入 [0.75, 1.25) 抖动
	OnRetry     func(attempt int, delay time.Duration, err error)
	sleep       func(time.Duration)
	randomFloat func() float64
}

// Do 以指数退避重试 fn，只重试带 retryable 标记的错误。
// 取消不在这里处理，需要时由调用方包装 fn。
func Do[T any](fn func() (T, error), opts Options) (T, error) {
	if opts.sleep == nil {
		opts.sleep = time.Sleep
	}
	if opts.randomFloat == nil {
		opts.randomFloat = rand.Float64
	}

	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 不可重试或预算用尽，立即上抛
		if !IsRetryable(err) || attempt >= opts.MaxRetries {
			return zero, lastErr
		}

		delay := backoffDelay(attempt, opts)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, delay, err)
		}
		opts.sleep(delay)
	}
}

// backoffDelay 第 n 次（0 起）重试的延迟：min(base·2ⁿ, max) 乘以抖动，下限 1ms
func backoffDelay(attempt int, opts Options) time.Duration {
	delay := opts.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if opts.MaxDelay > 0 && delay >= opts.MaxDelay {
			delay = opts.MaxDelay
			break
		}
	}
	if opts.MaxDelay > 0 && delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}

	if opts.Jitter {
		factor := 0.75 + opts.randomFloat()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}
