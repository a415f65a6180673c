// Package logging wires log/slog to the outputs a capture host
// actually has: the systemd journal when one is listening, stdout when
// something is connected to it, both at once through a MultiHandler.
//
// Call Initialize once at startup with the resolved configuration:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text", // or "json"
//		Modules: map[string]string{
//			"monitor": "debug",
//			"storage": "warn",
//		},
//	})
//
// Each module asks for its logger by name and keeps it:
//
//	logger := logging.GetLogger("monitor")
//	logger.Info("Camera connected", "camera", name)
//
// Loggers obtained before Initialize are retuned by it, so package
// initialization order does not matter. A module's level comes from its
// Modules entry when present, otherwise the global Level. Contextual
// fields follow slog convention:
//
//	logger := logging.GetLogger("monitor").With("camera", name)
//
// On a journald host, entries carry SYSLOG_IDENTIFIER=rtsptrace and the
// record attributes as uppercase journal fields:
//
//	journalctl -t rtsptrace -f
//	journalctl -t rtsptrace -p err
//	journalctl -t rtsptrace MODULE=monitor CAMERA=entrance
//
// In the TOML config file the [logging] table is flat: level and format
// are reserved keys, and any other key names a module.
//
//	[logging]
//	level = "info"
//	format = "text"
//	monitor = "debug"
//	source = "warn"
package logging
