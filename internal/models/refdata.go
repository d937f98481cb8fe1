package models

// Reference data owned by administration. The queue core reads it for
// validation and label formatting, never mutates it.

type Department struct {
	DepartmentID int64  `json:"department_id"`
	Name         string `json:"name"`
	Prefix       string `json:"prefix"`
}

type Service struct {
	ServiceID    int64  `json:"service_id"`
	DepartmentID int64  `json:"department_id"`
	Name         string `json:"name"`
}

type Counter struct {
	CounterID    int64  `json:"counter_id"`
	DepartmentID int64  `json:"department_id"`
	Name         string `json:"name"`
}
