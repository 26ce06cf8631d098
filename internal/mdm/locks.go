package mdm

import (
	"mdm/internal/governance"
	"mdm/internal/repository"
)

// references 写入某类型时会校验存在性的被引用类型
var references = map[governance.Kind][]governance.Kind{
	governance.KindCategory:     {governance.KindCategory},
	governance.KindGeography:    {governance.KindGeography},
	governance.KindRole:         {governance.KindRole},
	governance.KindUser:         {governance.KindCategory, governance.KindGeography, governance.KindRole},
	governance.KindEntity:       {governance.KindCategory, governance.KindGeography, governance.KindAttribute},
	governance.KindApprovalRule: {governance.KindRole, governance.KindUser, governance.KindAttribute},
}

// uniqueFields 同类型内不能重复的字段
var uniqueFields = map[governance.Kind]string{
	governance.KindUser:      "email",
	governance.KindAttribute: "fieldName",
}

// lockWrite 在记录锁之前取得类型锁。
// 被引用的类型取共享锁，删除方取独占锁，因此引用检查与删除互斥；
// 调整层级或写唯一字段时本类型取独占锁，同类结构变更串行执行
func (t *Typed[T, P]) lockWrite(c *repository.Change, create bool, fields repository.Patch) error {
	kind := t.Kind()
	var exclusive []governance.Kind
	if field, ok := uniqueFields[kind]; ok && (create || fields.Has(field)) {
		exclusive = append(exclusive, kind)
	}
	if !create && t.children != nil && fields.Has("parentId") {
		exclusive = append(exclusive, kind)
	}
	return c.LockKinds(t.svc.kindLocks, exclusive, references[kind])
}

// lockDelete 删除时独占本类型，等待进行中的引用写入完成
func (t *Typed[T, P]) lockDelete(c *repository.Change) error {
	return c.LockKinds(t.svc.kindLocks, []governance.Kind{t.Kind()}, nil)
}

// lockCommit 审批通过时按提交内容加锁，记录不存在时按新建处理
func (t *Typed[T, P]) lockCommit(c *repository.Change, id string, data repository.Patch) error {
	return t.lockWrite(c, !t.repo.Exists(id), data.Without(t.hidden...))
}
