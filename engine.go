package parslet

import "sync"

// Fn is the signature a task body must implement. args holds resolved
// positional arguments and kwargs resolved named arguments; Future-valued
// slots have already been substituted with their upstream result by the
// time Fn runs.
type Fn func(args []any, kwargs map[string]any) (any, error)

// Engine owns a task registry and the Future ID/creation-order counters for
// every Future it allocates. Tests typically build their own Engine rather
// than relying on the process-wide Default(), per the design note in
// SPEC_FULL.md §9 (a configuration value passed explicitly, not a true
// global).
type Engine struct {
	mu            sync.Mutex
	tasks         map[string]*TaskDef
	allowRedefine bool

	idMu     sync.Mutex
	nextID   uint64
	nextSeq  uint64
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithAllowRedefine enables re-registering a task name without error. Test
// suites that rebuild the same workflow across cases typically set this.
func WithAllowRedefine() EngineOption {
	return func(e *Engine) { e.allowRedefine = true }
}

// NewEngine builds an empty Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{tasks: make(map[string]*TaskDef)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Default returns the process-wide facade Engine used by the package-level
// Register/MustRegister helpers.
func Default() *Engine { return defaultEngine }

// Register wraps fn as a registered task named name. Calling the returned
// TaskDef does not invoke fn; see TaskDef.Call.
func (e *Engine) Register(name string, fn Fn) (*TaskDef, error) {
	return e.register(name, fn, "")
}

// RegisterVersioned is like Register but records an explicit version tag
// used (together with name) to compute the task's cache fingerprint. Use
// this when fn's behavior can change across builds without its name
// changing, so stale cache entries are not replayed.
func (e *Engine) RegisterVersioned(name, version string, fn Fn) (*TaskDef, error) {
	return e.register(name, fn, version)
}

func (e *Engine) register(name string, fn Fn, version string) (*TaskDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tasks[name]; exists && !e.allowRedefine {
		return nil, &RedefinedError{Name: name}
	}
	td := &TaskDef{
		Name:        name,
		Fingerprint: taskFingerprint(name, version),
		fn:          fn,
		engine:      e,
	}
	e.tasks[name] = td
	return td, nil
}

// MustRegister is like Register but panics on error; convenient for
// package-level var initialization of workflow tasks.
func (e *Engine) MustRegister(name string, fn Fn) *TaskDef {
	td, err := e.Register(name, fn)
	if err != nil {
		panic(err)
	}
	return td
}

func (e *Engine) allocFuture() (FutureID, uint64) {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	e.nextID++
	e.nextSeq++
	return FutureID(e.nextID), e.nextSeq
}

// Register is a package-level convenience wrapping Default().Register.
func Register(name string, fn Fn) (*TaskDef, error) { return defaultEngine.Register(name, fn) }

// MustRegister is a package-level convenience wrapping Default().MustRegister.
func MustRegister(name string, fn Fn) *TaskDef { return defaultEngine.MustRegister(name, fn) }
