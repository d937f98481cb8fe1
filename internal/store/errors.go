package store

import "errors"

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrServiceNotFound    = errors.New("service not found")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrServiceMismatch    = errors.New("service does not belong to department")
	ErrCounterMismatch    = errors.New("counter does not belong to department")
	ErrInvalidPriority    = errors.New("unrecognized priority category")
	ErrNoTicket           = errors.New("no ticket available")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrConflict           = errors.New("concurrent modification")
	ErrVoidThreshold      = errors.New("repeat threshold not reached")
	ErrOfficeClosed       = errors.New("outside office hours")
)
