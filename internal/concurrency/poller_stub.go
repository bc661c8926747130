//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

const (
	EventRead   = 0x1
	EventWrite  = 0x4
	EventHangup = 0x2018
)

var ErrPollerClosed = errors.New("concurrency: poller closed")

type LinuxPoller struct{}

func NewLinuxPoller(int) (*LinuxPoller, error) { return nil, ErrUnsupported }

func (p *LinuxPoller) RegisterFD(int, uint32) error { return ErrUnsupported }

func (p *LinuxPoller) UnregisterFD(int) error { return ErrUnsupported }

func (p *LinuxPoller) Wait(int, func(int, uint32)) (bool, error) { return false, ErrUnsupported }

func (p *LinuxPoller) Wake() error { return ErrUnsupported }

func (p *LinuxPoller) Close() error { return nil }
