package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

// queueInfoGetter asynq.Inspector 的查询能力
type queueInfoGetter interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// QueueStats 单个队列的积压情况
type QueueStats struct {
	Queue     string    `json:"queue"`
	Weight    int       `json:"weight"`
	Size      int       `json:"size"`
	Pending   int       `json:"pending"`
	Active    int       `json:"active"`
	Scheduled int       `json:"scheduled"`
	Retry     int       `json:"retry"`
	Archived  int       `json:"archived"`
	Processed int       `json:"processedToday"`
	Failed    int       `json:"failedToday"`
	Paused    bool      `json:"paused"`
	Latency   string    `json:"latency"`
	Timestamp time.Time `json:"timestamp"`
}

// Inspector 队列状态查询
type Inspector struct {
	inspector queueInfoGetter
	weights   map[string]int
}

// NewInspector 创建队列状态查询
func NewInspector(opt asynq.RedisConnOpt) *Inspector {
	return newInspector(asynq.NewInspector(opt))
}

func newInspector(getter queueInfoGetter) *Inspector {
	return &Inspector{inspector: getter, weights: QueueWeights()}
}

// Stats 按权重从高到低返回各队列状态；尚未创建的队列记为空
func (i *Inspector) Stats() ([]QueueStats, error) {
	names := make([]string, 0, len(i.weights))
	for name := range i.weights {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		if i.weights[names[a]] != i.weights[names[b]] {
			return i.weights[names[a]] > i.weights[names[b]]
		}
		return names[a] < names[b]
	})

	out := make([]QueueStats, 0, len(names))
	for _, name := range names {
		info, err := i.inspector.GetQueueInfo(name)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				out = append(out, QueueStats{Queue: name, Weight: i.weights[name], Latency: "0s"})
				continue
			}
			return nil, fmt.Errorf("查询队列 %s 失败: %w", name, err)
		}
		out = append(out, QueueStats{
			Queue:     name,
			Weight:    i.weights[name],
			Size:      info.Size,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
			Latency:   info.Latency.String(),
			Timestamp: info.Timestamp,
		})
	}
	return out, nil
}

// Close 关闭连接
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
