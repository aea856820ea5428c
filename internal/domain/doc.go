// Package domain contains the task record, its lifecycle state machine and the
// validation rules shared by every store backend. It has no knowledge of
// persistence or delivery mechanisms.
package domain
