package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"socket-service/internal/domain"
)

const DefaultNamespace = "/"

// HandlerFunc receives the arguments assembled from the binding's parameter
// descriptors, one per declared position. A nil result means no response.
type HandlerFunc func(ctx context.Context, args []interface{}) (interface{}, error)

type Binding struct {
	Method string
	// Arity is the number of declared handler parameters; every position in
	// [0, Arity) must be described by Metadata.Parameters.
	Arity    int
	Metadata domain.SocketHandlerMetadata
	Handler  HandlerFunc
}

// Service groups the bindings of one class served on one namespace.
type Service struct {
	ClassName    string
	Namespace    string
	UseBefore    []domain.Hook
	UseAfter     []domain.Hook
	OnConnection func(ctx context.Context, socket domain.Socket) error
	OnDisconnect func(ctx context.Context, socket domain.Socket, reason string)
	Bindings     []Binding
}

type HandlerKey struct {
	ClassName string
	Method    string
}

type serviceEntry struct {
	className    string
	namespace    string
	useBefore    []domain.Hook
	useAfter     []domain.Hook
	onConnection func(ctx context.Context, socket domain.Socket) error
	onDisconnect func(ctx context.Context, socket domain.Socket, reason string)
}

type handlerEntry struct {
	key       HandlerKey
	namespace string
	eventName string
	arity     int
	metadata  domain.SocketHandlerMetadata
	handler   HandlerFunc
	service   *serviceEntry
}

type ParameterInfo struct {
	Position int    `json:"position"`
	Kind     string `json:"kind"`
	MapIndex *int   `json:"map_index,omitempty"`
}

type ReturnsInfo struct {
	EventName string `json:"event_name"`
	Type      string `json:"type"`
}

// HandlerInfo is the read-only view of a registered binding.
type HandlerInfo struct {
	ClassName  string          `json:"class_name"`
	Method     string          `json:"method"`
	Namespace  string          `json:"namespace"`
	EventName  string          `json:"event_name"`
	Parameters []ParameterInfo `json:"parameters"`
	Returns    *ReturnsInfo    `json:"returns,omitempty"`
	UseBefore  int             `json:"use_before"`
	UseAfter   int             `json:"use_after"`
}

// Registry maps (class, method) to handler metadata and (namespace, event)
// to the handler serving it. Entries are immutable once registered.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[HandlerKey]*handlerEntry
	byEvent  map[string]map[string]*handlerEntry
	services map[string][]*serviceEntry
	classes  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[HandlerKey]*handlerEntry),
		byEvent:  make(map[string]map[string]*handlerEntry),
		services: make(map[string][]*serviceEntry),
		classes:  make(map[string]bool),
	}
}

func NormalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" || ns == DefaultNamespace {
		return DefaultNamespace
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return strings.TrimRight(ns, "/")
}

// Register validates every binding of svc and adds them all, or none.
func (r *Registry) Register(svc Service) error {
	if strings.TrimSpace(svc.ClassName) == "" {
		return fmt.Errorf("%w: service class name is required", domain.ErrInvalidMetadata)
	}

	service := &serviceEntry{
		className:    svc.ClassName,
		namespace:    NormalizeNamespace(svc.Namespace),
		useBefore:    append([]domain.Hook(nil), svc.UseBefore...),
		useAfter:     append([]domain.Hook(nil), svc.UseAfter...),
		onConnection: svc.OnConnection,
		onDisconnect: svc.OnDisconnect,
	}
	if err := checkHooks(svc.ClassName, "class", service.useBefore, service.useAfter); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.classes[svc.ClassName] {
		return fmt.Errorf("%w: class %q", domain.ErrDuplicateHandler, svc.ClassName)
	}

	entries := make([]*handlerEntry, 0, len(svc.Bindings))
	events := make(map[string]bool, len(svc.Bindings))
	methods := make(map[string]bool, len(svc.Bindings))
	for _, b := range svc.Bindings {
		entry, err := newHandlerEntry(service, b)
		if err != nil {
			return err
		}
		if methods[b.Method] {
			return fmt.Errorf("%w: %s.%s", domain.ErrDuplicateHandler, svc.ClassName, b.Method)
		}
		if events[entry.eventName] || r.byEvent[service.namespace][entry.eventName] != nil {
			return fmt.Errorf("%w: event %q on namespace %q", domain.ErrDuplicateHandler, entry.eventName, service.namespace)
		}
		methods[b.Method] = true
		events[entry.eventName] = true
		entries = append(entries, entry)
	}

	if r.byEvent[service.namespace] == nil {
		r.byEvent[service.namespace] = make(map[string]*handlerEntry)
	}
	for _, entry := range entries {
		r.byKey[entry.key] = entry
		r.byEvent[service.namespace][entry.eventName] = entry
	}
	r.services[service.namespace] = append(r.services[service.namespace], service)
	r.classes[svc.ClassName] = true

	return nil
}

func newHandlerEntry(service *serviceEntry, b Binding) (*handlerEntry, error) {
	id := service.className + "." + b.Method
	meta := b.Metadata

	if strings.TrimSpace(b.Method) == "" {
		return nil, fmt.Errorf("%w: %s: method name is required", domain.ErrInvalidMetadata, service.className)
	}
	if b.Handler == nil {
		return nil, fmt.Errorf("%w: %s: handler is required", domain.ErrInvalidMetadata, id)
	}
	if meta.MethodClassName != service.className {
		return nil, fmt.Errorf("%w: %s: methodClassName %q does not match the service class",
			domain.ErrInvalidMetadata, id, meta.MethodClassName)
	}
	if b.Arity < 0 {
		return nil, fmt.Errorf("%w: %s: negative arity", domain.ErrInvalidMetadata, id)
	}

	for pos, p := range meta.Parameters {
		if pos < 0 || pos >= b.Arity {
			return nil, fmt.Errorf("%w: %s: parameter position %d outside [0, %d)", domain.ErrInvalidMetadata, id, pos, b.Arity)
		}
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("%w: %s: parameter %d has unknown kind %q", domain.ErrInvalidMetadata, id, pos, p.Kind)
		}
		if p.MapIndex != nil && (p.Kind != domain.ParamArgs || *p.MapIndex < 0) {
			return nil, fmt.Errorf("%w: %s: parameter %d has an invalid map index", domain.ErrInvalidMetadata, id, pos)
		}
	}
	for pos := 0; pos < b.Arity; pos++ {
		if _, ok := meta.Parameter(pos); !ok {
			return nil, fmt.Errorf("%w: %s: position %d", domain.ErrMissingParameter, id, pos)
		}
	}

	if meta.Returns != nil {
		if strings.TrimSpace(meta.Returns.EventName) == "" {
			return nil, fmt.Errorf("%w: %s: returns needs an event name", domain.ErrInvalidMetadata, id)
		}
		if !meta.Returns.Type.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown returns type %q", domain.ErrInvalidMetadata, id, meta.Returns.Type)
		}
	}
	if err := checkHooks(id, "method", meta.UseBefore, meta.UseAfter); err != nil {
		return nil, err
	}

	eventName := meta.EventName
	if eventName == "" {
		eventName = b.Method
	}

	return &handlerEntry{
		key:       HandlerKey{ClassName: service.className, Method: b.Method},
		namespace: service.namespace,
		eventName: eventName,
		arity:     b.Arity,
		metadata:  meta.Clone(),
		handler:   b.Handler,
		service:   service,
	}, nil
}

func checkHooks(owner, level string, lists ...[]domain.Hook) error {
	for _, hooks := range lists {
		for i, h := range hooks {
			if h == nil {
				return fmt.Errorf("%w: %s: nil %s hook at %d", domain.ErrInvalidMetadata, owner, level, i)
			}
		}
	}
	return nil
}

// Metadata returns a copy of the metadata registered for class.method.
func (r *Registry) Metadata(className, method string) (domain.SocketHandlerMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byKey[HandlerKey{ClassName: className, Method: method}]
	if !ok {
		return domain.SocketHandlerMetadata{}, false
	}
	return entry.metadata.Clone(), true
}

func (r *Registry) lookup(namespace, event string) (*handlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byEvent[NormalizeNamespace(namespace)][event]
	return entry, ok
}

func (r *Registry) servicesFor(namespace string) []*serviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*serviceEntry(nil), r.services[NormalizeNamespace(namespace)]...)
}

func (r *Registry) HasNamespace(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.services[NormalizeNamespace(namespace)]
	return ok
}

func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.services))
	for ns := range r.services {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Handlers lists every binding ordered by namespace then event name.
func (r *Registry) Handlers() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HandlerInfo, 0, len(r.byKey))
	for _, entry := range r.byKey {
		info := HandlerInfo{
			ClassName: entry.key.ClassName,
			Method:    entry.key.Method,
			Namespace: entry.namespace,
			EventName: entry.eventName,
			UseBefore: len(entry.service.useBefore) + len(entry.metadata.UseBefore),
			UseAfter:  len(entry.service.useAfter) + len(entry.metadata.UseAfter),
		}
		for _, pos := range entry.metadata.Positions() {
			p, _ := entry.metadata.Parameter(pos)
			param := ParameterInfo{Position: pos, Kind: string(p.Kind)}
			if p.MapIndex != nil {
				idx := *p.MapIndex
				param.MapIndex = &idx
			}
			info.Parameters = append(info.Parameters, param)
		}
		if ret := entry.metadata.Returns; ret != nil {
			info.Returns = &ReturnsInfo{EventName: ret.EventName, Type: string(ret.Type)}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].EventName < out[j].EventName
	})
	return out
}
