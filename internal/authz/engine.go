// Package authz evaluates per-action CEL policies for node operations.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/nodestream/pkg/model"
	"gopkg.in/yaml.v3"
)

// Policy decides whether an actor may perform an action on a node.
// node is nil when the target does not exist yet.
type Policy interface {
	Allow(ctx context.Context, action, actor, node string, target *model.Node) bool
}

// Engine compiles and caches one CEL program per action.
type Engine struct {
	mu         sync.RWMutex
	rules      map[string]string
	celEnv     *cel.Env
	programMap sync.Map // map[string]cel.Program
	logger     *slog.Logger
}

// Compile-time check that Engine implements Policy
var _ Policy = (*Engine)(nil)

// NewEngine creates an engine with no rules, which allows everything.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	return &Engine{
		rules:  map[string]string{},
		celEnv: env,
		logger: slog.Default().With("component", "authz"),
	}, nil
}

// LoadRules replaces the rule set with the YAML file at path.
func (e *Engine) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules: %w", err)
	}
	return e.UpdateRules(data)
}

// UpdateRules parses content, compiles every condition and swaps the rules in.
func (e *Engine) UpdateRules(content []byte) error {
	var rs RuleSet
	if err := yaml.Unmarshal(content, &rs); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	rules := make(map[string]string)
	for key, condition := range rs.Allow {
		for _, a := range strings.Split(key, ",") {
			for _, action := range expand(strings.TrimSpace(a)) {
				merged := condition
				if prev, ok := rules[action]; ok {
					merged = "(" + prev + ") || (" + condition + ")"
				}
				rules[action] = merged
			}
		}
	}

	for action, condition := range rules {
		if _, err := e.compile(condition); err != nil {
			return fmt.Errorf("rule %q: %w", action, err)
		}
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

func expand(action string) []string {
	switch action {
	case "write":
		return []string{ActionCreate, ActionDelete, ActionPublish}
	case "read":
		return []string{ActionSubscribe, ActionUnsubscribe, ActionItems}
	default:
		return []string{action}
	}
}

// Evaluate runs the rule for action. Actions without a rule are allowed.
func (e *Engine) Evaluate(_ context.Context, req Request, target *model.Node) (bool, error) {
	e.mu.RLock()
	condition, ok := e.rules[req.Action]
	e.mu.RUnlock()
	if !ok {
		return true, nil
	}

	prg, err := e.compile(condition)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"request": map[string]interface{}{
			"actor":  req.Actor,
			"action": req.Action,
			"node":   req.Node,
		},
		"node": nodeToMap(target),
	})
	if err != nil {
		return false, err
	}
	return out.Value() == true, nil
}

// Allow evaluates and treats errors as denial.
func (e *Engine) Allow(ctx context.Context, action, actor, node string, target *model.Node) bool {
	ok, err := e.Evaluate(ctx, Request{Actor: actor, Action: action, Node: node}, target)
	if err != nil {
		e.logger.Warn("Policy evaluation failed", "action", action, "actor", actor, "node", node, "error", err)
		return false
	}
	return ok
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	if prg, ok := e.programMap.Load(expression); ok {
		return prg.(cel.Program), nil
	}

	ast, issues := e.celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programMap.Store(expression, prg)
	return prg, nil
}

func nodeToMap(n *model.Node) map[string]interface{} {
	if n == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":         n.ID,
		"owner":      n.Owner,
		"persistent": n.Persistent,
	}
}

// AllowAll permits every operation.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, string, string, *model.Node) bool { return true }
