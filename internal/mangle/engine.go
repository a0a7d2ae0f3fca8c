// Package mangle buffers pipeline facts and evaluates Mangle rules over them.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tabpilot-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed pipeline.mg
var defaultSchema []byte

// Fact represents a normalized event emitted by the tool pipeline.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult represents a binding of variables to values from a Mangle query.
type QueryResult map[string]interface{}

// Engine wraps the Mangle deductive database with a bounded, indexed fact buffer.
type Engine struct {
	cfg          config.MangleConfig
	mu           sync.RWMutex
	schemaLoaded bool

	source      []byte
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	// Fact buffer for temporal queries
	facts []Fact

	// Predicate index into facts
	index map[string][]int
}

// NewEngine builds an engine and loads cfg.SchemaPath, or the embedded
// pipeline schema when no path is configured.
func NewEngine(cfg config.MangleConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		facts: make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}

	if !cfg.Enable {
		return e, nil
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := e.loadSchema(defaultSchema); err != nil {
		return nil, fmt.Errorf("embedded schema: %w", err)
	}
	return e, nil
}

// LoadSchema parses a Mangle schema file, analyzes it, and prepares the engine for evaluation.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.loadSchema(data)
}

func (e *Engine) loadSchema(src []byte) error {
	programInfo, err := analyze(src)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.source = src
	e.programInfo = programInfo
	e.schemaLoaded = true

	return nil
}

func analyze(src []byte) (*analysis.ProgramInfo, error) {
	sourceUnit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	// Stratification and safety checks
	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}
	return programInfo, nil
}

// AddRule adds declarations and rules to the loaded program. The combined
// source is re-analyzed so new rules are stratified with the existing ones,
// and the program is evaluated so facts derived by the new rules can be
// queried at once.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	combined := make([]byte, 0, len(e.source)+len(ruleSource)+1)
	combined = append(combined, e.source...)
	combined = append(combined, '\n')
	combined = append(combined, ruleSource...)

	programInfo, err := analyze(combined)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	if err := engine.EvalProgram(programInfo, e.store); err != nil {
		return fmt.Errorf("add rule: eval program: %w", err)
	}
	e.source = combined
	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// AddFacts appends incoming facts to both the temporal buffer and the Mangle
// store, then re-evaluates the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Add to temporal buffer with circular buffering
	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trimCount := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trimCount:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range facts {
		e.store.Add(e.factToAtom(f))
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			log.Printf("mangle: eval after %d facts failed: %v", len(facts), err)
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}

	return nil
}

// Query executes a Mangle query with variable binding and returns all satisfying assignments.
// Falls back to the temporal buffer when the store has no matching atoms.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	// Parse the query
	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	// Extract the query atom (should be a single query statement)
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}

	// Queries are clauses with only a head atom
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)

	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)

		// Bind variables from the query to fact arguments
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}

			if varArg, ok := arg.(ast.Variable); ok {
				result[varArg.Symbol] = e.convertConstant(atom.Args[i])
			}
		}

		results = append(results, result)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if len(results) == 0 {
		predName := queryAtom.Predicate.Symbol
		bufferResults := e.queryBufferDirect(predName, queryAtom.Args)
		results = append(results, bufferResults...)
	}

	return results, nil
}

// queryBufferDirect searches the temporal buffer for facts matching predicate and args pattern.
func (e *Engine) queryBufferDirect(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)

	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]

		// Check if fact matches the query pattern
		if len(queryArgs) > 0 && len(f.Args) < len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true

		for i, qArg := range queryArgs {
			if i >= len(f.Args) {
				break
			}

			if varArg, ok := qArg.(ast.Variable); ok {
				result[varArg.Symbol] = f.Args[i]
			} else if constArg, ok := qArg.(ast.Constant); ok {
				factVal := fmt.Sprintf("%v", f.Args[i])
				queryVal := e.convertConstant(constArg)
				if factVal != fmt.Sprintf("%v", queryVal) {
					matches = false
					break
				}
			}
		}

		if matches {
			results = append(results, result)
		}
	}

	return results
}

// Evaluate runs full program evaluation and returns derived facts for a specific predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	// Find the correct arity from declarations
	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	facts := make([]Fact, 0)

	var queryAtom ast.Atom
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := 0; i < arity; i++ {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: predSym, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: predSym}
	}

	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		fact, err := e.atomToFact(atom)
		if err != nil {
			return nil
		}
		facts = append(facts, fact)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}

	return facts, nil
}

// QueryTemporal returns facts of predicate strictly between after and before.
// A zero bound is open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}

	return results
}

// FactsByPredicate returns buffered facts of predicate using the index.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices, exists := e.index[predicate]
	if !exists {
		return []Fact{}
	}

	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			results = append(results, e.facts[idx])
		}
	}

	return results
}

// SessionFacts returns the newest facts whose first argument is sessionID,
// oldest first. limit <= 0 returns all of them.
func (e *Engine) SessionFacts(sessionID string, limit int) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Fact
	for i := len(e.facts) - 1; i >= 0; i-- {
		f := e.facts[i]
		if len(f.Args) == 0 || f.Args[0] != sessionID {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	predSym := ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = e.toConstant(arg)
	}

	return ast.Atom{
		Predicate: predSym,
		Args:      args,
	}
}

func (e *Engine) atomToFact(atom ast.Atom) (Fact, error) {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = e.convertConstant(arg)
	}

	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}, nil
}

func (e *Engine) toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func (e *Engine) convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}

	if fn, ok := interface{}(c).(func() (string, error)); ok {
		val, err := fn()
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return val
	}

	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
