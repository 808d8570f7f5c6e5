package store

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// linkNetwork exposes the curated sockets/HTTP surface (spec.md §4.4):
// "raw sockets default to deny; the default validator rejects all
// requests. A non-default validator may permit specific destinations" and
// "HTTP — outgoing HTTP handler gated per-request by the validator."
//
// The validator is consulted synchronously before any request leaves the
// host (spec.md §9 Open Question 3), which this models directly: the host
// function returns deny/allow before any connection is attempted.
func (s *Store) linkNetwork(ctx context.Context) error {
	_, err := s.Runtime.NewHostModuleBuilder("datafusion_net").
		NewFunctionBuilder().WithFunc(s.hostHTTPRequestAllowed).Export("http_request_allowed").
		NewFunctionBuilder().WithFunc(s.hostTCPConnectAllowed).Export("tcp_connect_allowed").
		Instantiate(ctx)
	return err
}

// hostHTTPRequestAllowed returns 1 if the validator permits the request, 0
// otherwise. The guest must call this before attempting the request; a
// denied request never reaches the network.
func (s *Store) hostHTTPRequestAllowed(ctx context.Context, m api.Module, methodPtr, methodLen, urlPtr, urlLen uint32) int32 {
	if s.validator == nil {
		return 0
	}
	method := readGuestString(m, methodPtr, methodLen)
	url := readGuestString(m, urlPtr, urlLen)
	if s.validator.Allow(method, url) {
		return 1
	}
	return 0
}

// hostTCPConnectAllowed gates raw socket use the same way; the default
// validator rejects every destination (spec.md §4.4).
func (s *Store) hostTCPConnectAllowed(ctx context.Context, m api.Module, hostPtr, hostLen uint32, port uint32) int32 {
	if s.validator == nil {
		return 0
	}
	host := readGuestString(m, hostPtr, hostLen)
	if s.validator.Allow("TCP", fmt.Sprintf("%s:%d", host, port)) {
		return 1
	}
	return 0
}
