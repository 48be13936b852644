// Package discovery finds management servers using DNS-SD over mDNS.
//
// Servers advertise the resource directory service type "_core-rd._udp".
// TXT records are optional:
//
//	rt=core.rd     resource type; other values are ignored
//	path=/rd       registration path (default /rd)
//	ver=1.0        protocol version
//
// Services are aggregated by instance name; addresses reported on several
// interfaces are merged into one entry.
package discovery
