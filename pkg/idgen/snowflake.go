package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花 ID
// ============================================================================
//
// 流水号要求全局唯一、趋势递增。节点号 0-1023，多实例部署时每个实例不同。
// ============================================================================

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init 初始化节点，重复调用以最后一次为准
func Init(workerID int64) error {
	n, err := snowflake.NewNode(workerID)
	if err != nil {
		return fmt.Errorf("初始化雪花节点失败: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// NextID 生成下一个ID
func NextID() snowflake.ID {
	mu.Lock()
	if node == nil {
		// 未初始化时默认 workerID = 1
		node, _ = snowflake.NewNode(1)
	}
	n := node
	mu.Unlock()
	return n.Generate()
}

// GenerateEntryNo 生成账本流水号
// 格式：LED + 年月日时分秒 + 雪花ID后8位
func GenerateEntryNo() string {
	return generate("LED")
}

// GenerateEventKey 生成出站事件键
func GenerateEventKey() string {
	return generate("EVT")
}

func generate(prefix string) string {
	id := NextID().Int64()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}
