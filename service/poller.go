package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// JobPoller 通用的客户端驱动轮询。没有推送/回调通道，
// 调用方固定间隔查询状态直到终态或超过上限。
type JobPoller struct {
	Poll     func(ctx context.Context, jobID string) (*JobStatus, error)
	Interval time.Duration
	// Ceiling 超过该时长仍无终态按卡死处理；外部服务侧的 job 不会被取消
	Ceiling time.Duration
	// OnProgress 每轮轮询回调一次粗粒度进度（已耗时/上限折算，至多 99）
	OnProgress func(percent int)
}

var ErrJobStalled = errors.New("job has no terminal status within ceiling")

// Wait 轮询直到终态。网络/瞬时错误只记录并继续下一轮。
func (p *JobPoller) Wait(ctx context.Context, jobID string) (*JobStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = 30 * time.Minute
	}

	start := time.Now()
	timeout := time.After(ceiling)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, &ServiceError{Op: "poll_job", Retryable: true, Err: ErrJobStalled}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if p.OnProgress != nil {
				pct := int(time.Since(start) * 100 / ceiling)
				if pct > 99 {
					pct = 99
				}
				p.OnProgress(pct)
			}
			st, err := p.Poll(ctx, jobID)
			if err != nil {
				log.Printf("轮询出错(继续重试): %v", err)
				continue
			}
			if st.Terminal() {
				return st, nil
			}
		}
	}
}

// 轮询取消注册表：job 被新的生成请求取代时，用 job id 找到并取消旧轮询。
// 以 job 标识为键而不是 task/timer 句柄，陈旧完成结果在结构上就套不回来。
var jobCancelRegistry = struct {
	sync.Mutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterJobCancel 在开始轮询时登记 cancelFunc
func RegisterJobCancel(jobID string, cancel context.CancelFunc) {
	jobCancelRegistry.Lock()
	defer jobCancelRegistry.Unlock()
	jobCancelRegistry.m[jobID] = cancel
}

// UnregisterJobCancel 轮询结束时注销
func UnregisterJobCancel(jobID string) {
	jobCancelRegistry.Lock()
	defer jobCancelRegistry.Unlock()
	delete(jobCancelRegistry.m, jobID)
}

// CancelJobPolling 取消某个 job 的轮询，返回是否实际找到
func CancelJobPolling(jobID string) bool {
	jobCancelRegistry.Lock()
	defer jobCancelRegistry.Unlock()
	if cancel, ok := jobCancelRegistry.m[jobID]; ok {
		cancel()
		delete(jobCancelRegistry.m, jobID)
		return true
	}
	return false
}
