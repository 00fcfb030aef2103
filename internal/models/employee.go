package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserLevel distinguishes office staff from field employees.
type UserLevel int

const (
	LevelEmployee UserLevel = 0
	LevelAdmin    UserLevel = 1
)

// User is the identity record owned by the auth service. Read-only here.
type User struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Username string             `bson:"username" json:"username"`
	Level    UserLevel          `bson:"level" json:"level"`
}

// EmployeeStatus is the clock state maintained by the attendance service.
type EmployeeStatus string

const (
	EmployeeClockedOut EmployeeStatus = "clocked_out"
	EmployeeClockedIn  EmployeeStatus = "clocked_in"
	EmployeeOnBreak    EmployeeStatus = "on_break"
)

// Employee is a field employee's directory profile.
type Employee struct {
	ID               primitive.ObjectID `bson:"_id" json:"id"`
	User             primitive.ObjectID `bson:"user" json:"user"`
	Status           EmployeeStatus     `bson:"status" json:"status"`
	CurrentLocation  *Location          `bson:"current_location,omitempty" json:"current_location,omitempty"`
	LastClockInTime  *time.Time         `bson:"last_clock_in_time,omitempty" json:"last_clock_in_time,omitempty"`
	LastClockOutTime *time.Time         `bson:"last_clock_out_time,omitempty" json:"last_clock_out_time,omitempty"`
}

// EmployeeProfile joins the directory record with its identity.
type EmployeeProfile struct {
	Employee
	Username string `json:"username"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID   primitive.ObjectID
	Username string
	IsAdmin  bool
}
