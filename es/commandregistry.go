package es

import (
	"reflect"
	"strings"
	"sync"
)

// CommandRegistry stores the handlers for commands.
type CommandRegistry interface {
	SetHandler(handler CommandHandler, cmd Command) error
	GetHandler(cmd Command) (CommandHandler, error)

	// GetHandlerByName finds a handler and the command's type by the
	// command's name. The match is lenient so "TryLogin" finds
	// "TryLoginCommand".
	GetHandlerByName(name string) (CommandHandler, reflect.Type, error)
}

// NewCommandRegistry creates a new CommandRegistry.
func NewCommandRegistry() CommandRegistry {
	return &commandRegistry{
		registry: make(map[string]registration),
	}
}

type registration struct {
	handler CommandHandler
	cmdType reflect.Type
}

type commandRegistry struct {
	sync.RWMutex
	registry map[string]registration
}

func (r *commandRegistry) SetHandler(handler CommandHandler, cmd Command) error {
	r.Lock()
	defer r.Unlock()

	if cmd == nil {
		return Validationf("you need to supply a command")
	}

	t, name := GetTypeName(cmd)
	r.registry[name] = registration{handler: handler, cmdType: t}
	return nil
}

func (r *commandRegistry) GetHandler(cmd Command) (CommandHandler, error) {
	if cmd == nil {
		return nil, Validationf("you need to supply a command")
	}

	r.RLock()
	defer r.RUnlock()

	_, name := GetTypeName(cmd)
	reg, ok := r.registry[name]
	if !ok {
		return nil, Validationf("cannot find %s in registry", name)
	}
	return reg.handler, nil
}

func (r *commandRegistry) GetHandlerByName(name string) (CommandHandler, reflect.Type, error) {
	r.RLock()
	defer r.RUnlock()

	for key, reg := range r.registry {
		if isCommandMatch(key, name) {
			return reg.handler, reg.cmdType, nil
		}
	}
	return nil, nil, Validationf("cannot find %s in registry", name)
}

func isCommandMatch(key, name string) bool {
	if strings.EqualFold(key, name) {
		return true
	}
	trimmed := strings.TrimSuffix(key, "Command")
	return strings.EqualFold(trimmed, name)
}
