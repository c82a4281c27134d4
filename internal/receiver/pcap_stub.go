//go:build !pcap

package receiver

import "fmt"

// NewPcapReceiver is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func NewPcapReceiver(file string, udpPort int, frameMemory []byte, frameSize int) (Receiver, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}
