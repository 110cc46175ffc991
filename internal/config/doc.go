// Package config loads and saves the brlink configuration file.
//
// The configuration is a YAML file holding the serial link parameters, the
// device id used as src_device_id for frames this endpoint originates, and
// the bridge settings. The file location follows OS-specific conventions.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/brlink/config.yaml or $HOME/.config/brlink/config.yaml
//   - macOS: $HOME/.config/brlink/config.yaml
//   - Windows: %LOCALAPPDATA%\brlink\config.yaml
//
// # Example
//
//	version: 1
//	log_level: info
//	link:
//	    port: /dev/ttyUSB0
//	    baud_rate: 115200
//	    data_bits: 8
//	    stop_bits: 1
//	    parity: "N"
//	    max_payload_length: 1024
//	device:
//	    id: 1
//	bridge:
//	    listen: :8088
//	    advertise: true
//	    instance: bench-rig
//
// Keys missing from the file keep their default values, and a missing file
// yields DefaultConfig.
//
// # Usage Example
//
//	cfg, err := config.LoadDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	l := link.New(port, cfg.Link.LinkOptions()...)
//
// # Thread Safety
//
// Save serializes writers with a mutex and replaces the file atomically.
package config
