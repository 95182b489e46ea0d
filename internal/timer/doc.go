// Package timer is the task timer engine.
//
// It tracks active time across start/stop intervals, cycles a task through
// pomodoro focus and break windows, and flags it OVERDUE once its target
// active duration is exceeded. Everything in this package is pure: functions
// take a State and an instant and return a new State. Nothing here performs
// I/O or reads the wall clock.
//
// Accrue is the single accrual step. Engine.Tick and every manual transition
// (Start, Pause, Resume, Finish, Cancel, Restart, Extend) call it before they
// touch Status, MainStartedAt or PomodoroUntil.
package timer
