// Package seed 从 YAML 文件导入参考数据。记录保留原 id，服务重启后重复导入不会产生重复数据
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/mdm"
)

// Actor 种子记录的创建人
const Actor = "system"

// File 类型 slug（"categories"、"approval-rules"）到记录列表的映射
type File map[string][]map[string]any

// Report 每个类型导入与跳过的记录数
type Report struct {
	Imported map[governance.Kind]int
	Skipped  map[governance.Kind]int
}

// Total 导入的记录总数
func (r Report) Total() int {
	n := 0
	for _, c := range r.Imported {
		n += c
	}
	return n
}

// LoadFile 读取并导入 path
func LoadFile(ctx context.Context, svc *mdm.Service, path string, log *zap.Logger) (Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read seed file: %w", err)
	}
	return Load(ctx, svc, raw, log)
}

// Load 导入 YAML 文档。按依赖顺序处理类型，已存在的记录跳过
func Load(ctx context.Context, svc *mdm.Service, raw []byte, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Report{}, fmt.Errorf("%w: parse seed: %v", governance.ErrValidation, err)
	}
	for key := range file {
		if _, err := governance.ParseKind(key); err != nil {
			return Report{}, err
		}
	}

	report := Report{Imported: map[governance.Kind]int{}, Skipped: map[governance.Kind]int{}}
	for _, kind := range governance.Kinds {
		records := file[kind.Slug()]
		if len(records) == 0 {
			records = file[string(kind)]
		}
		if len(records) == 0 {
			continue
		}
		coll, err := svc.Collection(kind)
		if err != nil {
			return report, err
		}
		for i, rec := range records {
			id, _ := rec["id"].(string)
			if id == "" {
				return report, fmt.Errorf("%w: %s #%d has no id", governance.ErrValidation, kind, i)
			}
			if coll.Exists(id) {
				report.Skipped[kind]++
				continue
			}
			if err := prepare(kind, rec); err != nil {
				return report, fmt.Errorf("%s %s: %w", kind, id, err)
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return report, fmt.Errorf("%w: encode %s %s: %v", governance.ErrValidation, kind, id, err)
			}
			if err := svc.Import(ctx, kind, data, Actor); err != nil {
				return report, fmt.Errorf("seed %s %s: %w", kind, id, err)
			}
			report.Imported[kind]++
		}
	}
	log.Info("种子数据已导入", zap.Int("imported", report.Total()))
	return report, nil
}

// prepare 种子记录默认为 Approved，并对明文密码做哈希
func prepare(kind governance.Kind, rec map[string]any) error {
	if _, ok := rec["approvalStatus"]; !ok {
		rec["approvalStatus"] = string(governance.ApprovalApproved)
	}
	if kind != governance.KindUser {
		return nil
	}
	password, ok := rec["password"].(string)
	delete(rec, "password")
	if !ok || password == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	rec["passwordHash"] = hash
	return nil
}
