// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package report is the reporting facility used by every primitive in the
// module. Fatal conditions are handed to the process-wide Reporter and then
// propagated to the caller as ordinary error values; the facility never
// decides process-exit policy. Warnings and log lines flow through the same
// Reporter. The default Reporter writes structured records with zerolog.
package report
