// Package hierarchy 在扁平记录列表上构建与遍历父子森林。
// 不持有状态，调用方每次传入当前快照
package hierarchy

import (
	"fmt"

	"mdm/internal/governance"
)

// Node 引用同类型父节点的记录
type Node interface {
	NodeID() string
	ParentNodeID() string
}

// TreeNode 记录及其层级（根为第 1 层）与子节点
type TreeNode[T Node] struct {
	Record   T              `json:"record"`
	Level    int            `json:"level"`
	Label    string         `json:"label"`
	Children []*TreeNode[T] `json:"children,omitempty"`
}

// LevelLabel 树视图中的层级标签（L1、L2…）
func (n *TreeNode[T]) LevelLabel() string {
	return fmt.Sprintf("L%d", n.Level)
}

// BuildTree 把记录划分为森林。没有父节点或父节点不在 records 中的记录为根，
// 兄弟节点保持输入顺序。处于环中的记录在遇到的第一个成员处断开，保证每条记录只出现一次
func BuildTree[T Node](records []T) []*TreeNode[T] {
	nodes := make(map[string]*TreeNode[T], len(records))
	for i := range records {
		nodes[records[i].NodeID()] = &TreeNode[T]{Record: records[i]}
	}

	parentOf := make(map[string]string, len(records))
	for _, r := range records {
		pid := r.ParentNodeID()
		if pid == "" || pid == r.NodeID() {
			continue
		}
		if _, ok := nodes[pid]; ok {
			parentOf[r.NodeID()] = pid
		}
	}
	breakCycles(records, parentOf)

	roots := make([]*TreeNode[T], 0)
	for _, r := range records {
		n := nodes[r.NodeID()]
		if pid, ok := parentOf[r.NodeID()]; ok {
			parent := nodes[pid]
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}

	stack := make([]*TreeNode[T], 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		roots[i].Level = 1
		roots[i].Label = roots[i].LevelLabel()
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.Children {
			c.Level = n.Level + 1
			c.Label = c.LevelLabel()
			stack = append(stack, c)
		}
	}
	return roots
}

// breakCycles 从 parentOf 的每个环中移除一条父链接，每个 id 访问次数有界，整体线性
func breakCycles[T Node](records []T, parentOf map[string]string) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(records))
	for _, r := range records {
		start := r.NodeID()
		if state[start] != unvisited {
			continue
		}
		var path []string
		cur := start
		for {
			st := state[cur]
			if st == done {
				break
			}
			if st == inProgress {
				delete(parentOf, cur)
				break
			}
			state[cur] = inProgress
			path = append(path, cur)
			next, ok := parentOf[cur]
			if !ok {
				break
			}
			cur = next
		}
		for _, id := range path {
			state[id] = done
		}
	}
}

// ValidateParent 检查 candidateID 能否以 parentID 为父节点。
// 自引用或 parentID 是 candidateID 的后代时返回 ErrCycleDetected，
// parentID 不存在时返回 ErrReferentialIntegrity
func ValidateParent[T Node](candidateID, parentID string, all []T) error {
	if parentID == "" {
		return nil
	}
	if parentID == candidateID {
		return fmt.Errorf("%w: %s cannot be its own parent", governance.ErrCycleDetected, candidateID)
	}
	index := indexByID(all)
	if _, ok := index[parentID]; !ok {
		return fmt.Errorf("%w: parent %s does not exist", governance.ErrReferentialIntegrity, parentID)
	}

	cur := parentID
	for steps := 0; steps <= len(all); steps++ {
		if cur == candidateID {
			return fmt.Errorf("%w: %s is a descendant of %s", governance.ErrCycleDetected, parentID, candidateID)
		}
		rec, ok := index[cur]
		if !ok || rec.ParentNodeID() == "" {
			return nil
		}
		cur = rec.ParentNodeID()
	}
	return fmt.Errorf("%w: ancestor chain of %s does not terminate", governance.ErrCycleDetected, parentID)
}

// ResolveAncestors 返回 id 的祖先链，直接父节点在前。遇到根或悬空的父引用时停止
func ResolveAncestors[T Node](id string, all []T) ([]T, error) {
	index := indexByID(all)
	rec, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", governance.ErrNotFound, id)
	}

	var out []T
	cur := rec.ParentNodeID()
	for cur != "" {
		parent, ok := index[cur]
		if !ok {
			break
		}
		out = append(out, parent)
		if len(out) >= len(all) {
			return nil, fmt.Errorf("%w: ancestor chain of %s does not terminate", governance.ErrCycleDetected, id)
		}
		cur = parent.ParentNodeID()
	}
	return out, nil
}

// DanglingParents 父引用指向不存在记录的节点。BuildTree 把它们当作根，
// 调用方将其作为完整性告警上报
func DanglingParents[T Node](records []T) []T {
	index := indexByID(records)
	var out []T
	for _, r := range records {
		pid := r.ParentNodeID()
		if pid == "" {
			continue
		}
		if _, ok := index[pid]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Children 按输入顺序返回 id 的直接子节点
func Children[T Node](id string, records []T) []T {
	var out []T
	for _, r := range records {
		if r.ParentNodeID() == id && r.NodeID() != id {
			out = append(out, r)
		}
	}
	return out
}

func indexByID[T Node](records []T) map[string]T {
	index := make(map[string]T, len(records))
	for _, r := range records {
		index[r.NodeID()] = r
	}
	return index
}
