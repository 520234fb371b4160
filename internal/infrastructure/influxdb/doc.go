// Package influxdb writes supervisor history to InfluxDB v2.
//
// Writes are batched and non-blocking, so a slow or unreachable server
// never delays supervision. Three measurements are written:
//
//	lifecycle   tags from, to          fields reason
//	diagnostic  tags category, severity fields title, auto_fix
//	recovery    tags trigger           fields success, duration_ms, terminated
//
// Integration is optional and disabled by default.
package influxdb
