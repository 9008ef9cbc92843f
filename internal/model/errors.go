package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrDependency is returned when a task reaches execution with unmet dependencies.
	ErrDependency = errors.New("dependency not satisfied")
	// ErrExecutor is returned when the capability executor reported a failure.
	ErrExecutor = errors.New("executor failed")
	// ErrIllegalTransition is returned when an invalid state change is requested.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrPersistence is returned when the checkpoint store could not read or write.
	ErrPersistence = errors.New("persistence failed")
	// ErrTimeout is returned when an executor call exceeded its allotted time.
	ErrTimeout = errors.New("timeout")
	// ErrQueueFull is returned when the work queue can't accept more jobs.
	ErrQueueFull = errors.New("queue is full")
)
