// Package discovery advertises and finds brlink bridges over mDNS.
//
// A bridge registers itself as a "_brlink._tcp" service in the "local."
// domain. TXT records carry the device id it sends frames as, the build
// version, and the WebSocket path:
//
//	device_id=0x01 version=v1.2.0 path=/ws
//
// Bridges serving HTTPS add tls=1, and Bridge.WebSocketURL switches to wss.
//
// # Advertising
//
//	adv, err := discovery.Advertise("bench-rig", 8088, discovery.BridgeTXT(0x01, version.Version))
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
// # Scanning
//
//	scanner := discovery.NewScanner()
//	bridges, err := scanner.Scan(ctx)
//	for _, b := range bridges {
//	    fmt.Println(b.Instance, b.WebSocketURL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Bridges must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
