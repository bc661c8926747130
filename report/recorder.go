// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package report

import "sync"

// Recorder is a Reporter that keeps everything it receives. Intended for tests.
type Recorder struct {
	mu       sync.Mutex
	fatals   []error
	warnings []string
	logs     []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Fatal(err error) {
	r.mu.Lock()
	r.fatals = append(r.fatals, err)
	r.mu.Unlock()
}

func (r *Recorder) Warning(op, message string, _ error) {
	r.mu.Lock()
	r.warnings = append(r.warnings, op+": "+message)
	r.mu.Unlock()
}

func (r *Recorder) Log(op, message string) {
	r.mu.Lock()
	r.logs = append(r.logs, op+": "+message)
	r.mu.Unlock()
}

// Fatals returns a copy of the recorded fatal errors.
func (r *Recorder) Fatals() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.fatals...)
}

// Warnings returns a copy of the recorded warnings.
func (r *Recorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Logs returns a copy of the recorded log lines.
func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}
