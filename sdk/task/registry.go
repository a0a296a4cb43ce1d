package task

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeID is the (namespace, name) discriminator pair a task's wire
// representation carries so the registry can round-trip arbitrary task
// types without knowing their schema.
type TypeID struct {
	Namespace string
	Name      string
}

func (t TypeID) String() string { return t.Namespace + ":" + t.Name }

var typeRegistry = struct {
	mu    sync.RWMutex
	types map[TypeID]reflect.Type
}{types: map[TypeID]reflect.Type{}}

// Register associates a concrete Task type with its discriminator pair.
// Call it once per task type, typically from an init() in the package
// that declares the type, mirroring the source's auto-registration of
// every BaseTask subclass. Re-registering the same (namespace, name)
// with a different underlying type panics; re-registering with the same
// type is a no-op, tolerating package re-initialization in tests.
func Register(namespace, name string, prototype Task) {
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	id := TypeID{Namespace: namespace, Name: name}

	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()
	if existing, ok := typeRegistry.types[id]; ok {
		if existing != t {
			panic(fmt.Sprintf("task: duplicate registration for %s: %s vs %s", id, existing, t))
		}
		return
	}
	typeRegistry.types[id] = t
}

// Resolve looks up the concrete Go type registered for a discriminator
// pair, for deserializing a task received over the wire.
func Resolve(namespace, name string) (reflect.Type, bool) {
	typeRegistry.mu.RLock()
	defer typeRegistry.mu.RUnlock()
	t, ok := typeRegistry.types[TypeID{Namespace: namespace, Name: name}]
	return t, ok
}
