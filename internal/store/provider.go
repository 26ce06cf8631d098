// Package store 治理核心使用的持久化接口，附带内存与 gorm 两种实现
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// 非记录数据使用的集合名
const (
	CollectionAuditLog        = "AuditLog"
	CollectionApprovalRequest = "ApprovalRequest"
)

// Op 原子批次中的一次写入
type Op struct {
	Collection string
	ID         string
	Payload    []byte
	Delete     bool
}

// Put 把 v 编码为 collection/id 的新内容
func Put(collection, id string, v any) (Op, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Op{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return Op{Collection: collection, ID: id, Payload: payload}, nil
}

// Remove 删除 collection/id
func Remove(collection, id string) Op {
	return Op{Collection: collection, ID: id, Delete: true}
}

// Row 已存储的内容
type Row struct {
	ID      string
	Payload []byte
}

// Provider 持久化后端。Apply 必须全有或全无：失败的 Apply 的任何操作都不可见，重启后也一样
type Provider interface {
	LoadAll(ctx context.Context, collection string) ([]Row, error)
	Apply(ctx context.Context, ops ...Op) error
}
