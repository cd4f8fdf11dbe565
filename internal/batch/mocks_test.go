package batch

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yyri/wecube-platform/internal/domain"
)

var discard = log.New(io.Discard)

// mockStore records saved and completed batches.
type mockStore struct {
	mu        sync.Mutex
	saved     []*domain.BatchExecutionJob
	completed []*domain.BatchExecutionJob
	saveErr   error
	doneErr   error
}

func (s *mockStore) SaveBatch(ctx context.Context, b *domain.BatchExecutionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, b)
	return nil
}

func (s *mockStore) CompleteBatch(ctx context.Context, b *domain.BatchExecutionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doneErr != nil {
		return s.doneErr
	}
	s.completed = append(s.completed, b)
	return nil
}

func (s *mockStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *mockStore) completeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// mockEvaluator answers expressions from a fixed table keyed by
// expression and root entity id.
type mockEvaluator struct {
	mu     sync.Mutex
	values map[string][]any
	err    error
	calls  []domain.ExpressionCriteria
}

func newMockEvaluator() *mockEvaluator {
	return &mockEvaluator{values: make(map[string][]any)}
}

func (e *mockEvaluator) set(expr, root string, values ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[expr+"|"+root] = values
}

func (e *mockEvaluator) FetchData(ctx context.Context, c domain.ExpressionCriteria) ([]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.values[c.Expression+"|"+c.RootEntityID]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (e *mockEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type mockVariables struct {
	mu    sync.Mutex
	vars  map[string]domain.SystemVariable
	err   error
	calls int
}

func newMockVariables() *mockVariables {
	return &mockVariables{vars: make(map[string]domain.SystemVariable)}
}

func (v *mockVariables) set(pkg, name, value, def string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars[pkg+"|"+name] = domain.SystemVariable{PackageName: pkg, Name: name, Value: value, DefaultValue: def}
}

func (v *mockVariables) GetSystemVariable(ctx context.Context, pkg, name string) (domain.SystemVariable, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return domain.SystemVariable{}, v.err
	}
	sv, ok := v.vars[pkg+"|"+name]
	if !ok {
		return domain.SystemVariable{}, domain.ErrNotFound
	}
	return sv, nil
}

type mockInterfaces struct {
	interfaces map[string]domain.PluginConfigInterface
	err        error
}

func (m *mockInterfaces) GetPluginConfigInterface(ctx context.Context, id string) (domain.PluginConfigInterface, error) {
	if m.err != nil {
		return domain.PluginConfigInterface{}, m.err
	}
	desc, ok := m.interfaces[id]
	if !ok {
		return domain.PluginConfigInterface{}, domain.ErrNotFound
	}
	return desc, nil
}

type mockInstances struct {
	instances map[string]domain.PluginInstance
	err       error
}

func (m *mockInstances) GetRunningInstance(ctx context.Context, pkg string) (domain.PluginInstance, error) {
	if m.err != nil {
		return domain.PluginInstance{}, m.err
	}
	inst, ok := m.instances[pkg]
	if !ok {
		return domain.PluginInstance{}, domain.ErrNoRunningInstance
	}
	return inst, nil
}

type pluginCall struct {
	Address   string
	Path      string
	Inputs    []map[string]any
	RequestID string
}

// mockCaller answers plugin calls through respond and records every call.
type mockCaller struct {
	mu      sync.Mutex
	calls   []pluginCall
	respond func(call pluginCall) ([]byte, error)
}

func (c *mockCaller) Call(ctx context.Context, address, path string, inputs []map[string]any, requestID string) ([]byte, error) {
	call := pluginCall{Address: address, Path: path, Inputs: inputs, RequestID: requestID}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return nil, errors.New("no response configured")
	}
	return respond(call)
}

func (c *mockCaller) getCalls() []pluginCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]pluginCall, len(c.calls))
	copy(result, c.calls)
	return result
}

type mockMetrics struct {
	mu          sync.Mutex
	batches     int
	batchErrors int
	outcomes    map[string]int
	calls       []string
	inFlight    int
	maxInFlight int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: make(map[string]int)}
}

func (m *mockMetrics) BatchCompleted(jobs int, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if err != nil {
		m.batchErrors++
	}
}

func (m *mockMetrics) JobOutcome(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[state]++
}

func (m *mockMetrics) PluginCallCompleted(statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, statusClass)
}

func (m *mockMetrics) JobsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *mockMetrics) JobsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

type mockAnalytics struct {
	mu      sync.Mutex
	batches []*domain.BatchExecutionJob
}

func (a *mockAnalytics) Record(ctx context.Context, b *domain.BatchExecutionJob) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, b)
}

const (
	testInterfaceID = "iface-1"
	testPackage     = "wecmdb"
	testPath        = "/wecmdb/host/start"
)

func testInstances() *mockInstances {
	return &mockInstances{instances: map[string]domain.PluginInstance{
		testPackage: {ID: "inst-1", PackageName: testPackage, Host: "10.0.0.5", Port: 20000},
	}}
}

func testInterfaces() *mockInterfaces {
	return &mockInterfaces{interfaces: map[string]domain.PluginConfigInterface{
		testInterfaceID: {ID: testInterfaceID, PackageName: testPackage, Path: testPath},
	}}
}

// okResponse builds an envelope with a single successful output.
func okResponse(extra string) []byte {
	return []byte(`{"resultCode":"0","resultMessage":"","results":{"outputs":[{"errorCode":"0","errorMessage":""` + extra + `}]}}`)
}
