// Package logx provides tagged logging for Matrix components, following
// the component-prefixed, tag-suffixed convention used throughout the
// agent framework this module is descended from (component name first,
// [TAG] suffix for error/debug lines).
package logx

import "log"

// Logger prefixes every line with a component and node name, matching
// the "Agent %s: ..." convention, generalized to any component.
type Logger struct {
	component string
	node      string
	debug     bool
}

// New creates a Logger for the given component ("controller",
// "eventlogger", "coordinator", ...) running on the given node.
func New(component, node string, debug bool) *Logger {
	return &Logger{component: component, node: node, debug: debug}
}

func (l *Logger) prefix() string {
	if l.node == "" {
		return l.component
	}
	return l.component + "[" + l.node + "]"
}

func (l *Logger) Info(format string, args ...interface{}) {
	log.Printf(l.prefix()+": "+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.debug {
		log.Printf(l.prefix()+" [DEBUG]: "+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	log.Printf(l.prefix()+" [ERROR]: "+format, args...)
}

// Tagged logs an error line carrying a distinctive tag, used for the
// fatal error kinds (StateStoreError, BrokerConnectError, ...) so
// operators can grep for them.
func (l *Logger) Tagged(tag, format string, args ...interface{}) {
	log.Printf(l.prefix()+" ["+tag+"]: "+format, args...)
}
