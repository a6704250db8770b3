// Package log wraps zerolog with a process-global logger and child-logger
// helpers carrying the fields Roost components attach everywhere
// (component, account_id, target, group).
package log
