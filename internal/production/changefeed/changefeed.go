// Package changefeed 把写操作提交后的版本变更推送给在线客户端。
// 客户端收到变更只需要比对版本号后重新拉取，推送丢失时仍可通过轮询兜底。
package changefeed

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/3D-MAGE/app3dmage/internal/production/sse"
)

// 变更的记录类型
const (
	KindJob      = "job"
	KindTask     = "task"
	KindBatch    = "batch"
	KindMachine  = "machine"
	KindSettings = "settings"
)

// EventType SSE 事件名
const EventType = "change"

// Change 一次已提交的变更
type Change struct {
	Version  int64  `json:"-"`
	Token    string `json:"version"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id"`
	Action   string `json:"action"`
	Origin   string `json:"origin,omitempty"`
}

// NewChange 构造变更，Token 为版本号的十进制文本
func NewChange(version int64, kind, recordID, action string) Change {
	return Change{
		Version:  version,
		Token:    strconv.FormatInt(version, 10),
		Kind:     kind,
		RecordID: recordID,
		Action:   action,
	}
}

// Notifier 变更通知
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

// Nop 不做任何推送
type Nop struct{}

func (Nop) Notify(context.Context, Change) {}

// HubNotifier 推送给本实例的 SSE 连接
type HubNotifier struct {
	hub *sse.Hub
}

// NewHubNotifier 创建本地推送
func NewHubNotifier(hub *sse.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) Notify(_ context.Context, change Change) {
	data, err := json.Marshal(change)
	if err != nil {
		return
	}
	n.hub.Broadcast(sse.Event{EventType: EventType, Data: string(data)})
}
