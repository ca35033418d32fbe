// Package acl 提供集合使用的访问控制实现
package acl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/forever-free1/TideRepo/collection"
)

// Wildcard 匹配任意调用者
const Wildcard = "*"

// ErrUnknownAction 规则里出现了集合不认识的动作
var ErrUnknownAction = errors.New("acl: unknown action")

var knownActions = []collection.Action{
	collection.ActionCreate,
	collection.ActionUpdate,
	collection.ActionDelete,
	collection.ActionExecute,
	collection.ActionSetCodeIDs,
	collection.ActionRenameIndex,
}

// Rules 把动作映射到允许的调用者
type Rules map[collection.Action][]string

// Validate 检查规则里的动作名和调用者
func (r Rules) Validate() error {
	for action, principals := range r {
		if !slices.Contains(knownActions, action) {
			return fmt.Errorf("%q: %w", action, ErrUnknownAction)
		}
		for _, p := range principals {
			if p == "" {
				return fmt.Errorf("动作 %s 的调用者为空", action)
			}
		}
	}
	return nil
}

// StaticGate 按静态规则放行，规则可以整体替换
type StaticGate struct {
	mu    sync.RWMutex
	rules map[collection.Action]map[string]struct{}
}

var _ collection.Gate = (*StaticGate)(nil)

// NewStaticGate 创建静态规则网关
func NewStaticGate(rules Rules) (*StaticGate, error) {
	g := &StaticGate{}
	if err := g.Replace(rules); err != nil {
		return nil, err
	}
	return g, nil
}

// Replace 校验并原子地替换全部规则
func (g *StaticGate) Replace(rules Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	compiled := make(map[collection.Action]map[string]struct{}, len(rules))
	for action, principals := range rules {
		set := make(map[string]struct{}, len(principals))
		for _, p := range principals {
			set[p] = struct{}{}
		}
		compiled[action] = set
	}

	g.mu.Lock()
	g.rules = compiled
	g.mu.Unlock()
	return nil
}

// Allowed 判断 sender 能否执行 action，没有规则的动作一律拒绝
func (g *StaticGate) Allowed(_ context.Context, sender string, action collection.Action) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, ok := g.rules[action]
	if !ok {
		return false, nil
	}
	if _, ok := set[Wildcard]; ok {
		return true, nil
	}
	_, ok = set[sender]
	return ok, nil
}
