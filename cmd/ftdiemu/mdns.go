package main

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_ftdiemu._tcp"

// startMDNS advertises the TCP stream binding on port. The returned
// function withdraws the advertisement; it also goes away with ctx.
func startMDNS(ctx context.Context, o *deviceOptions, port int) (func(), error) {
	instance := o.mdnsName
	if instance == "" {
		instance = "ftdiemu-" + o.serial
	}
	meta := []string{
		"product=FT232R",
		fmt.Sprintf("packet=%d", o.packetSize),
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done) }, nil
}
